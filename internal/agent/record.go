package agent

import (
	"time"

	"a11yscout-mcp-server/internal/probe"
)

// AuditRecord is the outcome of one orchestration cycle.
type AuditRecord struct {
	Query     string               `json:"query"`
	Actions   []probe.Action       `json:"actions"`
	Results   map[probe.Action]any `json:"results"`
	Analysis  string               `json:"analysis"`
	Timestamp time.Time            `json:"timestamp"`
}
