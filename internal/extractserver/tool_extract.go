package extractserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_extract/internal/engine"
	"github.com/anatolykoptev/go_extract/internal/extractor"
	"github.com/anatolykoptev/go_extract/internal/toolutil"
)

// ExtractInput is the extract_content tool input.
type ExtractInput struct {
	URL           string `json:"url" jsonschema:"Absolute http(s) URL of an article, YouTube video, podcast episode or media file"`
	Timeout       int    `json:"timeout,omitempty" jsonschema:"Per network call timeout in seconds (default 30)"`
	YouTube       string `json:"youtube,omitempty" jsonschema:"YouTube transcript tiers: auto (default), web, apify, yt-dlp"`
	Firecrawl     string `json:"firecrawl,omitempty" jsonschema:"Firecrawl fallback: off, auto (default, only for blocked or thin pages), always"`
	Media         string `json:"media,omitempty" jsonschema:"Speech-to-text for podcasts and media: auto (default), prefer (transcribe even article pages with audio), off"`
	Cache         string `json:"cache,omitempty" jsonschema:"Transcript cache: default, bypass (skip reads and writes)"`
	MaxCharacters int    `json:"maxCharacters,omitempty" jsonschema:"Truncate content to this many characters (0 = server default)"`
}

func registerExtract(server *mcp.Server, ex *extractor.Extractor) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "extract_content",
		Description: "Extract readable text from a URL. Articles are returned as cleaned article text, YouTube videos and podcast episodes as transcripts (captions, Innertube, Apify, yt-dlp or Whisper speech-to-text). Blocked or thin pages fall back to Firecrawl. Returns content plus diagnostics describing which strategy, cache state and transcript tiers were used.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input ExtractInput) (*mcp.CallToolResult, *engine.ExtractedContent, error) {
		r, err := toolutil.BuildRequest(toolutil.RequestOptions{
			URL:           input.URL,
			Timeout:       time.Duration(input.Timeout) * time.Second,
			YouTube:       input.YouTube,
			Firecrawl:     input.Firecrawl,
			Media:         input.Media,
			Cache:         input.Cache,
			MaxCharacters: input.MaxCharacters,
		})
		if err != nil {
			return nil, nil, err
		}
		r.OnProgress = progressNotifier(ctx, req)

		out, err := ex.Extract(ctx, r)
		if err != nil {
			return nil, nil, err
		}
		return nil, out, nil
	})
}

// progressNotifier forwards engine progress as MCP progress notifications
// when the client supplied a progress token.
func progressNotifier(ctx context.Context, req *mcp.CallToolRequest) engine.ProgressFunc {
	if req == nil || req.Session == nil || req.Params == nil {
		return nil
	}
	token := req.Params.GetProgressToken()
	if token == nil {
		return nil
	}
	var step float64
	return func(ev engine.ProgressEvent) {
		step++
		params := &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      step,
			Message:       progressMessage(ev),
		}
		if err := req.Session.NotifyProgress(ctx, params); err != nil {
			slog.Debug("progress notification failed", slog.Any("error", err))
		}
	}
}

func progressMessage(ev engine.ProgressEvent) string {
	msg := string(ev.Kind)
	if ev.Provider != "" {
		msg += " " + string(ev.Provider)
	}
	if ev.Note != "" {
		msg += ": " + ev.Note
	}
	return msg
}
