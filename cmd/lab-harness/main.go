package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"lab-harness/internal/config"
	"lab-harness/internal/exitcodes"
	"lab-harness/internal/harness"
	"lab-harness/internal/logging"
	"lab-harness/internal/metrics"
	"lab-harness/internal/report"
	"lab-harness/internal/store"
)

var version = "dev"

const EnvVarPrefix = "LAB_HARNESS"

func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

const (
	hostFlag        = "host"
	portFlag        = "port"
	modeFlag        = "mode"
	rootFlag        = "root"
	exeFlag         = "exe"
	assetsFlag      = "assets"
	configFlag      = "config"
	dbFlag          = "db"
	metricsFileFlag = "metrics-file"
	logLevelFlag    = "log.level"
	logColorFlag    = "log.color"
)

// newFlags returns fresh flag values; urfave/cli writes env overrides back
// into the flag structs, so they are not shared between apps.
func newFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    hostFlag,
			Value:   "127.0.0.1",
			EnvVars: prefixEnvVar("HOST"),
			Usage:   "Address the server under test binds to",
		},
		&cli.IntFlag{
			Name:    portFlag,
			Value:   0,
			EnvVars: prefixEnvVar("PORT"),
			Usage:   "Port for every mode; 0 picks a fresh one per mode",
		},
		&cli.StringFlag{
			Name:    modeFlag,
			Value:   harness.SelectAll,
			EnvVars: prefixEnvVar("MODE"),
			Usage:   "Mode to test: parse, echo, map, full or all",
		},
		&cli.StringFlag{
			Name:    rootFlag,
			Value:   ".",
			EnvVars: prefixEnvVar("ROOT"),
			Usage:   "Project root holding lab8/lab8 and assets/",
		},
		&cli.StringFlag{
			Name:    exeFlag,
			EnvVars: prefixEnvVar("EXE"),
			Usage:   "Server executable (default <root>/lab8/lab8)",
		},
		&cli.StringFlag{
			Name:    assetsFlag,
			EnvVars: prefixEnvVar("ASSETS"),
			Usage:   "Document root for full mode (default <root>/assets)",
		},
		&cli.StringFlag{
			Name:    configFlag,
			EnvVars: prefixEnvVar("CONFIG"),
			Usage:   "YAML config file; flags override it",
		},
		&cli.StringFlag{
			Name:    dbFlag,
			EnvVars: prefixEnvVar("DB"),
			Usage:   "SQLite file to record run history in",
		},
		&cli.StringFlag{
			Name:    metricsFileFlag,
			EnvVars: prefixEnvVar("METRICS_FILE"),
			Usage:   "Write Prometheus textfile metrics here after the run",
		},
		&cli.StringFlag{
			Name:    logLevelFlag,
			Value:   "info",
			EnvVars: prefixEnvVar("LOG_LEVEL"),
			Usage:   "Log level: trace, debug, info, warn, error, crit",
		},
		&cli.BoolFlag{
			Name:    logColorFlag,
			Value:   logging.IsTerminal(os.Stderr),
			EnvVars: prefixEnvVar("LOG_COLOR"),
			Usage:   "Colour log output",
		},
	}
}

func main() {
	app := newApp()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "lab-harness"
	app.Version = version
	app.Usage = "End-to-end tests for the lab8 web server"
	app.Flags = newFlags()
	app.Action = runAction
	app.Commands = []*cli.Command{newHistoryCommand()}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCodeFor(err)))
	}
	return app
}

// exitCodeFor classifies errors that escape an action. Verdicts arrive as
// cli.ExitCoder; environment errors, runtime errors and bad configuration
// all mean the harness could not do its job.
func exitCodeFor(err error) int {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return exitcodes.SetupErr
}

// loadConfig layers defaults, the YAML file and explicitly set flags.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String(configFlag); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{hostFlag, &cfg.Host},
		{modeFlag, &cfg.Mode},
		{rootFlag, &cfg.Root},
		{exeFlag, &cfg.Exe},
		{assetsFlag, &cfg.Assets},
		{dbFlag, &cfg.DB},
		{metricsFileFlag, &cfg.MetricsFile},
	} {
		if c.IsSet(f.name) {
			*f.dst = c.String(f.name)
		}
	}
	if c.IsSet(portFlag) {
		cfg.Port = c.Int(portFlag)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogger(c *cli.Context) (log.Logger, error) {
	return logging.Setup(c.App.ErrWriter, c.String(logLevelFlag), c.Bool(logColorFlag))
}

func runAction(c *cli.Context) error {
	logger, err := setupLogger(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	modes, err := harness.ParseSelector(cfg.Mode)
	if err != nil {
		return err
	}

	out := c.App.Writer
	runner := harness.NewRunner(cfg.HarnessConfig(), harness.NewModeTable(cfg.AssetsPath(), cfg.SuiteOptions()), logger, out)
	sum, runErr := runner.Run(c.Context, modes)
	code := report.ExitCode(sum, runErr)

	if sum != nil {
		sum.Selector = cfg.Mode
		report.RenderSummary(out, sum, logging.IsTerminal(os.Stdout))
		recordRun(logger, cfg, sum, code)
	}
	if runErr != nil {
		logger.Error("Run aborted", "err", runErr)
		return runErr
	}
	if code != exitcodes.Success {
		return cli.Exit("", code)
	}
	return nil
}

// recordRun persists history and metrics. Failures here are logged, never
// allowed to change the verdict.
func recordRun(logger log.Logger, cfg config.Config, sum *report.Summary, code int) {
	if cfg.DB != "" {
		if err := saveHistory(cfg.DB, sum, code); err != nil {
			logger.Warn("Failed to record run history", "db", cfg.DB, "err", err)
		}
	}
	if cfg.MetricsFile != "" {
		m := metrics.New()
		m.RecordSummary(sum)
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("Failed to write metrics", "path", cfg.MetricsFile, "err", err)
		}
	}
}

func saveHistory(path string, sum *report.Summary, code int) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.RecordRun(sum, code)
}
