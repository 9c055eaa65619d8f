// Command extract prints the readable content or transcript of one or more URLs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anatolykoptev/go_extract/internal/engine"
	"github.com/anatolykoptev/go_extract/internal/extractor"
	"github.com/anatolykoptev/go_extract/internal/toolutil"
)

var (
	format        string
	firecrawlMode string
	youtubeMode   string
	mediaMode     string
	noCache       bool
	timeout       time.Duration
	maxChars      int
	showProgress  bool
	debugMode     bool
)

var rootCmd = &cobra.Command{
	Use:   "extract [flags] URL...",
	Short: "Extract article text and transcripts from URLs",
	Long: `Fetches each URL and prints its readable content. YouTube videos, podcast
episodes and media files are resolved to transcripts. Configuration comes from
the same environment variables as the MCP server.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if debugMode {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		switch format {
		case "json", "yaml", "text":
		default:
			return fmt.Errorf("--format must be json, yaml or text, got %q", format)
		}
		cache := "default"
		if noCache {
			cache = "bypass"
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		opened := engine.OpenCache(ctx, engine.CacheConfigFromEnv())
		defer opened.Close()
		ex := extractor.New(engine.ConfigFromEnv(), extractor.WithCache(opened.Cache))

		var failed int
		for _, raw := range args {
			req, err := toolutil.BuildRequest(toolutil.RequestOptions{
				URL:           raw,
				Timeout:       timeout,
				YouTube:       youtubeMode,
				Firecrawl:     firecrawlMode,
				Media:         mediaMode,
				Cache:         cache,
				MaxCharacters: maxChars,
			})
			if err != nil {
				return err
			}
			if showProgress {
				req.OnProgress = progressPrinter(cmd.ErrOrStderr())
			}
			out, err := ex.Extract(ctx, req)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "extract %s: %v\n", raw, err)
				continue
			}
			if err := render(cmd.OutOrStdout(), format, out); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d URLs failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: json, yaml or text")
	rootCmd.Flags().StringVar(&firecrawlMode, "firecrawl", "auto", "Firecrawl fallback: off, auto, always")
	rootCmd.Flags().StringVar(&youtubeMode, "youtube", "auto", "YouTube transcript tiers: auto, web, apify, yt-dlp")
	rootCmd.Flags().StringVar(&mediaMode, "media", "auto", "Media transcription: auto, prefer, off")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the transcript cache")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "Per network call timeout (default FETCH_TIMEOUT)")
	rootCmd.Flags().IntVar(&maxChars, "max-chars", 0, "Truncate content to this many characters")
	rootCmd.Flags().BoolVarP(&showProgress, "progress", "p", false, "Print progress events to stderr")
	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func render(w io.Writer, format string, out *engine.ExtractedContent) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	}
	var b strings.Builder
	if out.Title != "" {
		b.WriteString("# " + out.Title + "\n")
	}
	b.WriteString(out.URL + "\n")
	meta := []string{"strategy=" + out.Diagnostics.Strategy}
	if out.TranscriptSource != "" {
		meta = append(meta, "transcript="+string(out.TranscriptSource))
	}
	if out.Diagnostics.Transcript.CacheStatus != "" {
		meta = append(meta, "cache="+string(out.Diagnostics.Transcript.CacheStatus))
	}
	if out.Truncated {
		meta = append(meta, fmt.Sprintf("truncated from %d chars", out.TotalCharacters))
	}
	b.WriteString("(" + strings.Join(meta, ", ") + ")\n\n")
	b.WriteString(out.Content + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func progressPrinter(w io.Writer) engine.ProgressFunc {
	return func(ev engine.ProgressEvent) {
		line := string(ev.Kind)
		if ev.Provider != "" {
			line += " [" + string(ev.Provider) + "]"
		}
		if ev.Parts > 0 {
			line += fmt.Sprintf(" part %d/%d", ev.Part, ev.Parts)
		}
		if ev.BytesDownloaded > 0 {
			if ev.TotalBytes > 0 {
				line += fmt.Sprintf(" %d/%d bytes", ev.BytesDownloaded, ev.TotalBytes)
			} else {
				line += fmt.Sprintf(" %d bytes", ev.BytesDownloaded)
			}
		}
		if ev.Note != "" {
			line += " " + ev.Note
		}
		fmt.Fprintln(w, line)
	}
}
