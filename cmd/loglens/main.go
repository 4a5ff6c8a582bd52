// Package main wires together the agent runtime's components into a
// terminal-hosted CloudWatch Logs assistant. Argument parsing is kept
// intentionally thin: a provider name and a handful of environment
// variables select the LLM backend and AWS region. The interactive
// terminal UI, credential storage, and packaging concerns this binary
// would normally own in production are outside this repository's scope;
// main here exists to demonstrate that every component is concretely
// wireable end to end.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loglens/loglens/internal/budget"
	"github.com/loglens/loglens/internal/cloudwatch"
	"github.com/loglens/loglens/internal/datetime"
	"github.com/loglens/loglens/internal/format"
	"github.com/loglens/loglens/internal/infra"
	"github.com/loglens/loglens/internal/llm"
	"github.com/loglens/loglens/internal/llm/anthropic"
	"github.com/loglens/loglens/internal/llm/bedrock"
	"github.com/loglens/loglens/internal/llm/openai"
	"github.com/loglens/loglens/internal/loggroups"
	"github.com/loglens/loglens/internal/observability"
	"github.com/loglens/loglens/internal/orchestrator"
	"github.com/loglens/loglens/internal/querycache"
	"github.com/loglens/loglens/internal/resultcache"
	"github.com/loglens/loglens/internal/sanitizer"
	"github.com/loglens/loglens/internal/tools"
	tokenusage "github.com/loglens/loglens/internal/usage"
	"github.com/loglens/loglens/pkg/models"

	"golang.org/x/term"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		provider     string
		model        string
		region       string
		logFormat    string
		queryCacheDB string
		resultDB     string
		timezone     string
	)

	root := &cobra.Command{
		Use:     "loglens",
		Short:   "loglens - terminal-hosted AI assistant for CloudWatch Logs",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), chatOptions{
				provider:     provider,
				model:        model,
				region:       region,
				logFormat:    logFormat,
				queryCacheDB: queryCacheDB,
				resultDB:     resultDB,
				timezone:     timezone,
			})
		},
	}

	root.PersistentFlags().StringVar(&provider, "provider", envOr("LOGLENS_PROVIDER", "anthropic"), "LLM provider: anthropic, openai, or bedrock")
	root.PersistentFlags().StringVar(&model, "model", os.Getenv("LOGLENS_MODEL"), "model identifier (defaults to the provider's default)")
	root.PersistentFlags().StringVar(&region, "region", envOr("AWS_REGION", "us-east-1"), "AWS region for CloudWatch Logs and Bedrock")
	root.PersistentFlags().StringVar(&logFormat, "log-format", envOr("LOGLENS_LOG_FORMAT", "json"), "log output format: json or text")
	root.PersistentFlags().StringVar(&queryCacheDB, "query-cache-db", envOr("LOGLENS_QUERY_CACHE_DB", ""), "sqlite path for the query cache (empty: in-memory)")
	root.PersistentFlags().StringVar(&resultDB, "result-cache-db", envOr("LOGLENS_RESULT_CACHE_DB", ""), "sqlite path for the result cache (empty: in-memory)")
	root.PersistentFlags().StringVar(&timezone, "timezone", envOr("LOGLENS_TIMEZONE", ""), "IANA timezone for displaying event timestamps (empty: host timezone)")

	return root
}

type chatOptions struct {
	provider     string
	model        string
	region       string
	logFormat    string
	queryCacheDB string
	resultDB     string
	timezone     string
}

// runChat constructs every agent-runtime component and drives a plain
// stdin/stdout conversation loop until EOF or SIGINT.
func runChat(ctx context.Context, opts chatOptions) error {
	logger := observability.MustNewLogger(observability.LogConfig{
		Level:  envOr("LOGLENS_LOG_LEVEL", "info"),
		Format: opts.logFormat,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := infra.NewShutdownCoordinator(10*time.Second, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	// OnSignal fires the registered handlers (closing the caches, flushing
	// the tracer) as soon as SIGINT/SIGTERM arrives, independent of
	// whether runREPL is blocked on a stdin read that ctx cancellation
	// alone wouldn't interrupt.
	shutdown.OnSignal()
	defer func() {
		for _, r := range shutdown.Shutdown(context.Background()) {
			if r.Error != nil {
				logger.Warn(ctx, "shutdown handler failed", "handler", r.Name, "error", r.Error)
			}
		}
	}()

	cwAdapter, err := cloudwatch.NewAWSAdapter(ctx, cloudwatch.Config{Region: opts.region})
	if err != nil {
		return fmt.Errorf("cloudwatch adapter: %w", err)
	}

	index := loggroups.New(cloudwatch.ListerAdapter{Adapter: cwAdapter})
	logger.Info(ctx, "loading log group catalog")
	if err := index.Load(ctx, func(count int, msg string) {
		logger.Debug(ctx, "log group catalog progress", "count", count, "message", msg)
	}); err != nil {
		logger.Warn(ctx, "log group catalog load failed, continuing without it", "error", err)
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "loglens",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	shutdown.RegisterService("tracer", shutdownTracer)

	qc, err := querycache.Open(querycache.Config{Path: opts.queryCacheDB, Tracer: tracer})
	if err != nil {
		return fmt.Errorf("query cache: %w", err)
	}
	shutdown.RegisterConnection("query-cache", func(context.Context) error { return qc.Close() })

	rc, err := resultcache.Open(resultcache.Config{Path: opts.resultDB})
	if err != nil {
		return fmt.Errorf("result cache: %w", err)
	}
	shutdown.RegisterConnection("result-cache", func(context.Context) error { return rc.Close() })

	san := sanitizer.New()

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.Deps{
		CloudWatch:  cwAdapter,
		QueryCache:  qc,
		ResultCache: rc,
		Sanitizer:   san,
		Logger:      logger.WithFields("component", "tools"),
	})

	provider, resolvedModel, err := buildProvider(ctx, opts)
	if err != nil {
		return err
	}

	usageTracker := tokenusage.NewTracker(tokenusage.DefaultTrackerConfig())

	orc := orchestrator.New(orchestrator.Config{
		Provider:      provider,
		Model:         resolvedModel,
		SystemPrompt:  defaultSystemPrompt,
		Tools:         registry,
		ResultCache:   rc,
		LogGroupIndex: index,
		Options:       orchestrator.DefaultOptions(),
		BudgetConfig:  budget.DefaultConfig(resolvedModel),
		UsageTracker:  usageTracker,
		Tracer:        tracer,
	})

	logger = logger.WithContext(observability.AddSessionID(ctx, orc.SessionID()))

	orc.RegisterToolListener(func(rec models.ToolCallRecord) {
		if rec.Stage != models.ToolCallSuccess && rec.Stage != models.ToolCallError {
			logger.Debug(ctx, "tool call", "tool", rec.ToolName, "stage", string(rec.Stage))
			return
		}
		elapsed := rec.FinishedAt.Sub(rec.StartedAt)
		logger.Debug(ctx, "tool call", "tool", rec.ToolName, "stage", string(rec.Stage), "duration", format.FormatDurationMsInt(elapsed.Milliseconds()))
	})
	orc.SetContextNotificationCallback(func(n orchestrator.Notification) {
		logger.Info(ctx, "context notification", "severity", string(n.Severity), "message", n.Message)
	})

	displayZone, err := time.LoadLocation(datetime.ResolveUserTimezone(opts.timezone))
	if err != nil {
		displayZone = time.UTC
	}

	err = runREPL(ctx, orc, qc, displayZone, logger)
	reportUsage(usageTracker, orc.SessionID(), provider.Name(), resolvedModel)
	return err
}

// runREPL drives a plain stdin/stdout conversation loop. The "> " prompt
// is only printed when stdin is an interactive terminal, so piped input
// (scripts, test harnesses) doesn't get prompt noise interleaved with
// replies.
func runREPL(ctx context.Context, orc *orchestrator.Orchestrator, qc *querycache.Cache, displayZone *time.Location, logger *observability.Logger) error {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println("loglens - ask about your CloudWatch logs. Ctrl+D to exit.")
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/events" {
			printRecentEvents(orc, displayZone)
			continue
		}
		if line == "/stats" {
			printCacheStats(ctx, qc)
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		reply, err := orc.Chat(turnCtx, line)
		cancel()
		if err != nil {
			logger.Error(ctx, "chat turn failed", "error", err)
			fmt.Println("error:", err)
			continue
		}
		fmt.Println(reply)
	}
	return scanner.Err()
}

// printRecentEvents dumps this session's run/tool lifecycle events, a
// debugging aid distinct from the conversational reply. Timestamps are
// rendered in displayZone (the resolved --timezone flag) rather than
// bare UTC, so a session run from, say, America/New_York doesn't force
// the operator to do UTC arithmetic in their head.
func printRecentEvents(orc *orchestrator.Orchestrator, displayZone *time.Location) {
	events, err := orc.RecentEvents()
	if err != nil {
		fmt.Println("error reading events:", err)
		return
	}
	if len(events) == 0 {
		fmt.Println("(no events recorded yet)")
		return
	}
	localized := make([]*observability.Event, len(events))
	for i, e := range events {
		localCopy := *e
		localCopy.Timestamp = e.Timestamp.In(displayZone)
		localized[i] = &localCopy
	}
	fmt.Print(observability.FormatTimeline(observability.BuildTimeline(localized)))
}

// printCacheStats dumps the query cache's current statistics: entry
// count, byte/MB size, total log events cached, total hits, expired
// entries awaiting the next sweep, and the backing storage path.
func printCacheStats(ctx context.Context, qc *querycache.Cache) {
	stats, err := qc.Statistics(ctx)
	if err != nil {
		fmt.Println("error reading cache stats:", err)
		return
	}
	fmt.Printf("query cache: %d entries, %.2f MB, %d logs cached, %d hits, %d expired, store=%s\n",
		stats.EntryCount, stats.TotalMB, stats.TotalLogs, stats.TotalLogsHits, stats.ExpiredCount, stats.StoragePath)
}

// reportUsage prints a one-line token/cost summary for the session on
// exit. Pricing is not wired to a live rate card here, so only token
// counts are shown; FormatUsageDetailed is the same formatter a status
// bar would use.
func reportUsage(tracker *tokenusage.Tracker, sessionID, provider, model string) {
	totals := tracker.GetTotals(provider, model)
	if totals == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "session usage (%s/%s, span %s): %s\n",
		provider, model, tracker.SessionSpan(sessionID), tokenusage.FormatUsageDetailed(totals))
}

func buildProvider(ctx context.Context, opts chatOptions) (llm.Provider, string, error) {
	switch strings.ToLower(opts.provider) {
	case "", "anthropic":
		p, err := anthropic.New(anthropic.Config{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:      os.Getenv("ANTHROPIC_BASE_URL"),
			DefaultModel: opts.model,
		})
		if err != nil {
			return nil, "", err
		}
		return p, resolveModel(opts.model, "claude-sonnet-4-20250514"), nil
	case "openai":
		p, err := openai.New(openai.Config{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			BaseURL:      os.Getenv("OPENAI_BASE_URL"),
			DefaultModel: opts.model,
		})
		if err != nil {
			return nil, "", err
		}
		return p, resolveModel(opts.model, "gpt-4o"), nil
	case "bedrock":
		p, err := bedrock.New(ctx, bedrock.Config{
			Region:       opts.region,
			DefaultModel: opts.model,
		})
		if err != nil {
			return nil, "", err
		}
		return p, resolveModel(opts.model, "anthropic.claude-3-5-sonnet-20241022-v2:0"), nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q (want anthropic, openai, or bedrock)", opts.provider)
	}
}

func resolveModel(requested, fallback string) string {
	if strings.TrimSpace(requested) == "" {
		return fallback
	}
	return requested
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const defaultSystemPrompt = `You are loglens, an AI assistant for exploring AWS CloudWatch Logs.
You can list log groups, fetch logs from a specific group, and search across multiple
groups with a pattern. Prefer narrow time windows and specific log groups before
broadening a search. Large results are paged through fetch_cached_result_chunk rather
than returned inline.`
