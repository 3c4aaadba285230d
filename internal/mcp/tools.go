package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"a11yscout-mcp-server/internal/agent"
	"a11yscout-mcp-server/internal/facts"
	"a11yscout-mcp-server/internal/probe"
)

var probeDescriptions = map[probe.Action]string{
	probe.Crawl:    "Load a page and list its links and headings. Defaults to the configured target URL.",
	probe.Axe:      "Run an axe-core accessibility scan against a page. Defaults to the configured target URL.",
	probe.Keyboard: "Tab through a page and report interactive elements that never receive keyboard focus.",
}

// ProbeTool exposes a single probe.
type ProbeTool struct {
	probe  probe.Probe
	target string
}

func (t *ProbeTool) Name() string { return string(t.probe.Action()) }

func (t *ProbeTool) Description() string { return probeDescriptions[t.probe.Action()] }

func (t *ProbeTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Page to probe (optional, defaults to the target URL)",
			},
		},
	}
}

func (t *ProbeTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	target := strings.TrimSpace(getStringArg(args, "url"))
	if target == "" {
		target = t.target
	}
	if target == "" {
		return nil, errors.New("url is required when no target is configured")
	}
	return t.probe.Run(ctx, target)
}

// AccessibilityQueryTool runs a full audit cycle for a natural-language query.
type AccessibilityQueryTool struct {
	auditor Auditor
}

func (t *AccessibilityQueryTool) Name() string { return "accessibility-query" }

func (t *AccessibilityQueryTool) Description() string {
	return "Answer an accessibility question about the target site. Picks the probes to run, runs them, summarizes the findings and archives the report."
}

func (t *AccessibilityQueryTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to check, e.g. \"can the nav be used with a keyboard?\"",
			},
		},
		"required": []string{"query"},
	}
}

func (t *AccessibilityQueryTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query := strings.TrimSpace(getStringArg(args, "query"))
	if query == "" {
		return nil, agent.ErrEmptyQuery
	}

	rec, err := t.auditor.RunCycle(ctx, query)
	if err != nil {
		// The report is still usable when only archiving failed.
		var perr *agent.PersistenceError
		if rec != nil && errors.As(err, &perr) {
			return map[string]any{
				"report":  rec,
				"warning": perr.Error(),
			}, nil
		}
		return nil, err
	}
	return map[string]any{"report": rec}, nil
}

// ListReportsTool lists archived reports, newest first.
type ListReportsTool struct {
	reports ReportStore
}

func (t *ListReportsTool) Name() string { return "list-reports" }

func (t *ListReportsTool) Description() string {
	return "List archived accessibility reports, newest first."
}

func (t *ListReportsTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of reports to return (default 20)",
			},
		},
	}
}

func (t *ListReportsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	reports, err := t.reports.List()
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	total := len(reports)
	if limit := getIntArg(args, "limit", 20); limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return map[string]any{
		"reports": reports,
		"total":   total,
	}, nil
}

// GetReportTool loads one archived report.
type GetReportTool struct {
	reports ReportStore
}

func (t *GetReportTool) Name() string { return "get-report" }

func (t *GetReportTool) Description() string {
	return "Load an archived accessibility report by file name."
}

func (t *GetReportTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Report file name as returned by list-reports",
			},
		},
		"required": []string{"name"},
	}
}

func (t *GetReportTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	name := strings.TrimSpace(getStringArg(args, "name"))
	if name == "" {
		return nil, errors.New("name is required")
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid report name %q", name)
	}
	return t.reports.Load(name)
}

// QueryFindingsTool queries the findings store.
type QueryFindingsTool struct {
	engine *facts.Engine
}

func (t *QueryFindingsTool) Name() string { return "query-findings" }

func (t *QueryFindingsTool) Description() string {
	return "Query accumulated probe findings. Pass either a Mangle atom such as " +
		"`blocking_violation(URL, Rule).` or a bare predicate name such as `unreachable_control`."
}

func (t *QueryFindingsTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Mangle atom with variables, ending in a period",
			},
			"predicate": map[string]any{
				"type":        "string",
				"description": "Predicate to list in full",
			},
		},
	}
}

func (t *QueryFindingsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if query := strings.TrimSpace(getStringArg(args, "query")); query != "" {
		if !strings.HasSuffix(query, ".") {
			query += "."
		}
		rows, err := t.engine.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		return map[string]any{"query": query, "results": rows, "count": len(rows)}, nil
	}

	predicate := strings.TrimSpace(getStringArg(args, "predicate"))
	if predicate == "" {
		return nil, errors.New("query or predicate is required")
	}
	found, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	return map[string]any{"predicate": predicate, "facts": found, "count": len(found)}, nil
}
