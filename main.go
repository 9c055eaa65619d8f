// go_extract: content and transcript extraction MCP server.
//
// Exposes two MCP tools: extract_content and transcript_cache_stats.
// Runs as HTTP MCP server or stdio transport.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_extract/internal/engine"
	"github.com/anatolykoptev/go_extract/internal/extractor"
	"github.com/anatolykoptev/go_extract/internal/extractserver"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", slog.Any("error", err))
	}
	initLogging(env.Str("LOG_LEVEL", "info"))
	mcpPort := env.Str("MCP_PORT", "8893")

	cfg := initEngine()
	cache := engine.OpenCache(context.Background(), engine.CacheConfigFromEnv())
	defer cache.Close()

	ex := extractor.New(cfg, extractor.WithCache(cache.Cache))

	slog.Info("starting go_extract",
		slog.String("port", mcpPort),
		slog.Bool("firecrawl", cfg.FirecrawlAPIKey != ""),
		slog.Bool("apify", cfg.ApifyAPIToken != ""),
		slog.Bool("yt_dlp", cfg.YtDlpPath != ""),
		slog.Bool("whisper", cfg.FalAPIKey != "" || cfg.OpenAIAPIKey != ""),
	)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_extract",
		Version: version,
	}, nil)

	extractserver.RegisterTools(server, ex, cache.Stats)
	slog.Info("tools registered", slog.Int("count", extractserver.ToolCount))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_extract",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 900 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func initEngine() engine.Config {
	cfg := engine.ConfigFromEnv()
	if enabled(env.Str("BROWSER_TLS", "")) {
		client, err := engine.NewBrowserHTTPClient(cfg.FetchTimeout)
		if err != nil {
			slog.Warn("browser TLS client init failed, using default transport", slog.Any("error", err))
		} else {
			cfg.HTTPClient = client
			slog.Info("browser TLS client initialized")
		}
	}
	return cfg
}

func enabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func initLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
