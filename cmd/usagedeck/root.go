package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/daterange"
	"github.com/usagedeck/usagedeck/internal/export"
	"github.com/usagedeck/usagedeck/internal/filters"
	"github.com/usagedeck/usagedeck/internal/gateway"
	"github.com/usagedeck/usagedeck/internal/observability"
	"github.com/usagedeck/usagedeck/internal/querycache"
	"github.com/usagedeck/usagedeck/internal/session"
	"github.com/usagedeck/usagedeck/internal/version"
)

var (
	// Global flags
	cfgFile    string
	envFile    string
	flagPreset string
	flagStart  string
	flagEnd    string
	flagUsers  []string
	flagModels []string
	flagKeys   []string
	jsonOut    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "usagedeck",
	Short: "Terminal console for the gateway's admin usage analytics",
	Long: `Usagedeck queries the model gateway's admin usage API and renders
aggregate spend, per-dimension breakdowns, and period-over-period trends
in the terminal.

Every command operates on one selection: a date range plus optional
user, model, and API key filters, all set through the global flags.

Examples:
  usagedeck overview --preset 30d
  usagedeck breakdown model --sort-by requests --sort-order asc
  usagedeck breakdown user --users u_123,u_456 --per-page 25 --page 2
  usagedeck trends --start 2025-01-01 --end 2025-01-31
  usagedeck export --format csv
  usagedeck refresh`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and renders any failure on stderr.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(err)
	}
	return err
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "usagedeck %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "C", "", "path to a usagedeck config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&flagPreset, "preset", "", "date range preset: 1d, 7d, 30d, or 90d")
	rootCmd.PersistentFlags().StringVar(&flagStart, "start", "", "custom range start (YYYY-MM-DD), used with --end")
	rootCmd.PersistentFlags().StringVar(&flagEnd, "end", "", "custom range end (YYYY-MM-DD), used with --start")
	rootCmd.PersistentFlags().StringSliceVarP(&flagUsers, "users", "u", nil, "user ids to filter by (comma-separated)")
	rootCmd.PersistentFlags().StringSliceVarP(&flagModels, "models", "m", nil, "model ids to filter by (comma-separated)")
	rootCmd.PersistentFlags().StringSliceVarP(&flagKeys, "keys", "k", nil, "api key ids to filter by (requires --users)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON instead of tables")
}

// console bundles the wired session with everything that must be torn
// down once a command finishes.
type console struct {
	cfg     *config.Config
	session *session.Session
	cache   *querycache.Cache
	obs     *observability.Provider
}

func newConsole(ctx context.Context) (*console, error) {
	cfg, err := config.Load(config.Options{ConfigFile: cfgFile, EnvFile: envFile})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg.Log)

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	client, err := gateway.FromConfig(cfg.Gateway, cfg.Retry, obs)
	if err != nil {
		return nil, fmt.Errorf("build gateway client: %w", err)
	}

	store, err := querycache.NewStore(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	cache := querycache.New(store, cfg.Cache, obs)

	archive, err := export.NewArchive(ctx, cfg.Export)
	if err != nil {
		return nil, fmt.Errorf("open export archive: %w", err)
	}
	exports := export.NewCoordinator(client, archive, cfg.Export, obs)

	sess, err := session.New(session.Options{
		Config:  *cfg,
		Client:  client,
		Cache:   cache,
		Exports: exports,
	})
	if err != nil {
		return nil, err
	}

	c := &console{cfg: cfg, session: sess, cache: cache, obs: obs}
	if err := c.applySelections(); err != nil {
		c.close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *console) close(ctx context.Context) {
	if err := c.cache.Close(); err != nil {
		slog.Warn("close query cache", "error", err)
	}
	if err := c.obs.Shutdown(ctx); err != nil {
		slog.Warn("shutdown observability", "error", err)
	}
}

// applySelections folds the global flags into the session before the
// command body runs. Order matters: the range first, then users, then the
// key filter that depends on them.
func (c *console) applySelections() error {
	if sel, ok := selectionFromFlags(flagPreset, flagStart, flagEnd); ok {
		if custom, isCustom := sel.(daterange.Custom); isCustom && !custom.Complete() {
			warnPrinter.Printfln("custom range needs both --start and --end; keeping %s", c.session.CurrentRange())
		}
		_, warning, err := c.session.ApplyDateSelection(sel)
		if err != nil {
			return err
		}
		if warning != nil {
			warnPrinter.Println(warning.Message())
		}
	}
	if len(flagUsers) > 0 {
		_, changes := c.session.SetUsers(flagUsers)
		printImpliedChanges(changes)
	}
	if len(flagModels) > 0 {
		_, changes := c.session.SetModels(flagModels)
		printImpliedChanges(changes)
	}
	if len(flagKeys) > 0 {
		_, changes := c.session.SetAPIKeys(flagKeys)
		printImpliedChanges(changes)
	}
	return nil
}

// selectionFromFlags maps the range flags onto a date selection. A custom
// pair wins over a preset; with no range flags at all the configured
// default preset stands.
func selectionFromFlags(preset, start, end string) (daterange.Selection, bool) {
	if strings.TrimSpace(start) != "" || strings.TrimSpace(end) != "" {
		return daterange.Custom{Start: start, End: end}, true
	}
	if strings.TrimSpace(preset) != "" {
		return daterange.Preset(preset), true
	}
	return nil, false
}

func printImpliedChanges(changes []filters.ImpliedChange) {
	for _, ch := range changes {
		warnPrinter.Println(ch.Message)
	}
}

// reportError renders one operator-facing line for the failure, with the
// wait hint for rate limited calls.
func reportError(err error) {
	if rl, ok := gateway.AsRateLimit(err); ok {
		if wait := rl.Countdown(time.Now()); wait > 0 {
			errorPrinter.Printfln("%s (retry in %s)", rl.Error(), wait.Round(time.Second))
			return
		}
	}
	errorPrinter.Println(err.Error())
}

// configureLogging installs the process-wide logger on stderr so stdout
// stays parseable in --json mode.
func configureLogging(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
