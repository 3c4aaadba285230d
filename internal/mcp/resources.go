package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"a11yscout-mcp-server/internal/facts"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"a11yscout://about",
			"a11yscout About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, target and available tools."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"a11yscout://reports/{name}",
			"Archived Report",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Read one archived accessibility report by file name."),
		),
		s.handleReportResource,
	)

	if s.deps.Findings != nil {
		s.mcpServer.AddResourceTemplate(
			mcp.NewResourceTemplate(
				"a11yscout://findings{?predicate,limit}",
				"Findings",
				mcp.WithTemplateMIMEType(resourceMIMEJSON),
				mcp.WithTemplateDescription("Most recent buffered findings, optionally filtered by predicate."),
			),
			s.handleFindingsResource,
		)
	}
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, map[string]any{
		"name":         s.cfg.Server.Name,
		"version":      s.cfg.Server.Version,
		"target":       s.cfg.Target.URL,
		"probe_mode":   s.cfg.Probes.Mode,
		"tools":        s.ToolNames(),
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleReportResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	name := argString(request.Params.Arguments["name"])
	if name == "" {
		return nil, fmt.Errorf("missing report name")
	}
	rec, err := (&GetReportTool{reports: s.deps.Reports}).Execute(context.Background(), map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return jsonContents(request.Params.URI, rec)
}

func (s *Server) handleFindingsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	predicate := argString(request.Params.Arguments["predicate"])
	limit := getIntArg(request.Params.Arguments, "limit", 25)
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	found := recentFacts(s.deps.Findings, predicate, limit)
	return jsonContents(request.Params.URI, map[string]any{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(found),
		"facts":     found,
	})
}

func recentFacts(engine *facts.Engine, predicate string, limit int) []facts.Fact {
	var source []facts.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}
	if len(source) > limit {
		source = source[len(source)-limit:]
	}
	return source
}

func jsonContents(uri string, payload any) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}
