package extractserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_extract/internal/engine"
)

// CacheStatsInput takes no arguments.
type CacheStatsInput struct{}

// CacheStatsOutput pairs the cache summary with process counters.
type CacheStatsOutput struct {
	Cache   engine.CacheStats `json:"cache"`
	Metrics map[string]int64  `json:"metrics"`
}

func registerCacheStats(server *mcp.Server, stats engine.StatsReporter) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcript_cache_stats",
		Description: "Report transcript cache size (positive, negative and expired entries) and extraction counters for this server process.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ CacheStatsInput) (*mcp.CallToolResult, *CacheStatsOutput, error) {
		if stats == nil {
			return nil, nil, fmt.Errorf("transcript cache does not report stats")
		}
		cs, err := stats.Stats(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("cache stats: %w", err)
		}
		return nil, &CacheStatsOutput{Cache: cs, Metrics: engine.GetMetrics()}, nil
	})
}
