// Package extractserver exposes the extractor as MCP tools.
package extractserver

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_extract/internal/engine"
	"github.com/anatolykoptev/go_extract/internal/extractor"
)

// RegisterTools registers extract_content and transcript_cache_stats on server.
// stats may be nil when the cache backend cannot summarize itself.
func RegisterTools(server *mcp.Server, ex *extractor.Extractor, stats engine.StatsReporter) {
	registerExtract(server, ex)
	registerCacheStats(server, stats)
}

// ToolCount is the number of tools RegisterTools adds.
const ToolCount = 2
