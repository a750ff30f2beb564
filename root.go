package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-replicate/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

const logFilePermissions = 0o600

// CLIFlags holds the persistent flags.
type CLIFlags struct {
	ConfigPath string
	TokenFile  string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built by the root pre-run and stored in the command's
// context. Subcommands retrieve it with mustCLIContext.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagTokenFile  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gdrive-replicate",
		Short: "Replicate Google Drive folder trees",
		Long: `Copy a Google Drive folder tree you do not own (for example one shared
with you read-only) into a folder you control. Files are duplicated
server-side where Drive allows it and streamed through this process where
it does not. Runs are journaled so an interrupted copy can be resumed.`,
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagTokenFile, "token-file", "", "OAuth2 token file")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newCopyCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newVerifyCmd())

	return cmd
}

func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		TokenFile:  flagTokenFile,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg, flags)
	if err != nil {
		return nil, err
	}

	return &CLIContext{Flags: flags, Cfg: cfg, Logger: logger}, nil
}

// mustCLIContext returns the CLIContext set by the root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// loadConfig resolves the override chain. Command flags that mirror config
// keys override them only when explicitly set.
func loadConfig(cmd *cobra.Command, flags CLIFlags) (*config.Config, error) {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if flags.TokenFile != "" {
		cli.TokenFile = &flags.TokenFile
	}

	fs := cmd.Flags()

	if fs.Changed("workers") {
		v, _ := fs.GetInt("workers")
		cli.Workers = &v
	}

	if fs.Changed("max-items") {
		v, _ := fs.GetInt("max-items")
		cli.MaxItems = &v
	}

	if fs.Changed("create-root") {
		v, _ := fs.GetBool("create-root")
		cli.CreateRoot = &v
	}

	if fs.Changed("chunk-size") {
		v, _ := fs.GetString("chunk-size")
		cli.ChunkSize = &v
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// buildLogger creates the process logger. The config file sets the baseline
// level; --verbose and --quiet override it. Format "auto" picks text on a
// terminal and JSON otherwise.
func buildLogger(cfg *config.Config, flags CLIFlags) (*slog.Logger, error) {
	var out io.Writer = os.Stderr

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}

		out = f
	}

	return newLogger(out, cfg.Logging.Level, cfg.Logging.Format, flags), nil
}

func newLogger(w io.Writer, level, format string, flags CLIFlags) *slog.Logger {
	lvl := slog.LevelInfo

	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	// CLI flags override config.
	if flags.Verbose {
		lvl = slog.LevelDebug
	}

	if flags.Quiet {
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}

	if format == "json" || (format != "text" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
