// CLAUDE:SUMMARY MCP tool registration: list sources, run one source, run due sources, reset a source, source metrics, stats.
package crawl

import (
	"context"

	"github.com/hazyhaar/boothcrawl/kit"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers all crawl tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerListSources(srv)
	svc.registerRunSource(srv)
	svc.registerRunDue(srv)
	svc.registerResetSource(srv)
	svc.registerSourceMetrics(srv)
	svc.registerStats(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// register wraps endpoint with call logging and registers it.
func (svc *Service) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(svc.logger, tool.Name)(endpoint), decode)
}

type runArgs struct {
	SourceID string `json:"source_id"`
	Force    bool   `json:"force"`
	Replay   bool   `json:"replay"`
}

var runOptionProps = map[string]any{
	"force":  map[string]any{"type": "boolean", "description": "Re-extract content whose hash is unchanged; also runs a disabled source"},
	"replay": map[string]any{"type": "boolean", "description": "Extract the latest stored content without fetching"},
}

func (svc *Service) registerListSources(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "booth_list_sources",
		Description: "List crawl sources with their health state (ok, error, disabled, review, pending)",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		sources, err := svc.ListSources(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]sourceView, 0, len(sources))
		for _, s := range sources {
			out = append(out, viewOf(s))
		}
		return out, nil
	}

	svc.register(srv, tool, endpoint, kit.DecodeJSON[struct{}]())
}

func (svc *Service) registerRunSource(srv *mcp.Server) {
	props := map[string]any{
		"source_id": map[string]any{"type": "string", "description": "Source ID"},
	}
	for k, v := range runOptionProps {
		props[k] = v
	}
	tool := &mcp.Tool{
		Name:        "booth_run_source",
		Description: "Run one crawl source now, regardless of its cadence, and return the run summary",
		InputSchema: inputSchema(props, []string{"source_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*runArgs)
		return svc.RunSource(ctx, p.SourceID, RunOptions{Force: p.Force, Replay: p.Replay}, nil)
	}

	svc.register(srv, tool, endpoint, kit.DecodeJSON[runArgs]())
}

func (svc *Service) registerRunDue(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "booth_run_due",
		Description: "Run every enabled source whose cadence has elapsed and return the batch summary",
		InputSchema: inputSchema(runOptionProps, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*runArgs)
		sum, err := svc.RunDue(ctx, RunOptions{Force: p.Force, Replay: p.Replay}, nil)
		if err != nil && sum != nil {
			// A systemic abort still reports what ran.
			return sum, nil
		}
		return sum, err
	}

	svc.register(srv, tool, endpoint, kit.DecodeJSON[runArgs]())
}

func (svc *Service) registerResetSource(srv *mcp.Server) {
	type req struct {
		SourceID string `json:"source_id"`
	}

	tool := &mcp.Tool{
		Name:        "booth_reset_source",
		Description: "Clear a source's failure count and review flag and re-enable it",
		InputSchema: inputSchema(map[string]any{
			"source_id": map[string]any{"type": "string", "description": "Source ID"},
		}, []string{"source_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		src, err := svc.ResetSource(ctx, r.(*req).SourceID)
		if err != nil {
			return nil, err
		}
		return viewOf(src), nil
	}

	svc.register(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerSourceMetrics(srv *mcp.Server) {
	type req struct {
		SourceID string `json:"source_id"`
		Limit    int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "booth_source_metrics",
		Description: "Recent run records of a source: status, failing stage, page and record counts, error",
		InputSchema: inputSchema(map[string]any{
			"source_id": map[string]any{"type": "string", "description": "Source ID"},
			"limit":     map[string]any{"type": "integer", "description": "Max runs (default 20)"},
		}, []string{"source_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.SourceMetrics(ctx, p.SourceID, p.Limit)
	}

	svc.register(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerStats(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "booth_stats",
		Description: "Aggregate counters: sources, booths, raw content, runs by status",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.Stats(ctx)
	}

	svc.register(srv, tool, endpoint, kit.DecodeJSON[struct{}]())
}
