package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/colo-go/internal/infra/buildinfo"
	"github.com/yndnr/colo-go/internal/infra/confloader"
	"github.com/yndnr/colo-go/internal/infra/shutdown"
	"github.com/yndnr/colo-go/internal/server/coloserver"
	"github.com/yndnr/colo-go/internal/server/config"
	"github.com/yndnr/colo-go/internal/telemetry/logger"
)

// shutdownTimeout bounds the shutdown hooks, including an orderly end of a
// running primary session.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "colod",
		Usage:   "checkpoint replication daemon",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Validate the configuration and print it with secrets masked",
				Action: check,
			},
			{
				Name:  "version",
				Usage: "Print build information",
				Action: func(c *cli.Context) error {
					return json.NewEncoder(c.App.Writer).Encode(buildinfo.Get())
				},
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			EnvVars: []string{"COLO_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "role",
			Usage: "Override node.role (primary or secondary)",
		},
		&cli.StringFlag{
			Name:  "node-id",
			Usage: "Override node.node_id",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override log.level",
		},
	}
}

// newLoader builds a loader for the file and flag overrides in c.
func newLoader(c *cli.Context) *confloader.Loader {
	overrides := map[string]any{}
	if v := c.String("role"); v != "" {
		overrides["node.role"] = v
	}
	if v := c.String("node-id"); v != "" {
		overrides["node.node_id"] = v
	}
	if v := c.String("log-level"); v != "" {
		overrides["log.level"] = v
	}

	opts := []confloader.Option{confloader.WithOverrides(overrides)}
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	return confloader.NewLoader(opts...)
}

// loadConfig loads defaults, file, environment and flags, then verifies.
func loadConfig(loader *confloader.Loader) (*config.Config, error) {
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func check(c *cli.Context) error {
	cfg, err := loadConfig(newLoader(c))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(config.Sanitize(cfg))
}

func serve(c *cli.Context) error {
	loader := newLoader(c)
	cfg, err := loadConfig(loader)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)

	log.Info("starting colod", append(buildinfo.LogAttrs(), "config", loader.FilePath())...)

	srv, err := coloserver.New(cfg, coloserver.WithLogger(log))
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	handler := shutdown.NewHandler(shutdownTimeout, log)
	handler.OnShutdown("server", srv.Shutdown)

	reload := func() { reloadLogLevel(loader, log) }
	handler.OnReload(reload)

	if path := loader.FilePath(); path != "" {
		w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
		if err != nil {
			return fmt.Errorf("init config watcher: %w", err)
		}
		if err := w.Watch(path); err != nil {
			w.Stop()
			return fmt.Errorf("watch config: %w", err)
		}
		w.OnChange(func(string) { reload() })
		w.StartAsync()
		handler.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		handler.Shutdown()
		return fmt.Errorf("start server: %w", err)
	}
	log.Info("colod started", "role", cfg.Node.Role)

	if err := handler.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("colod stopped")
	return nil
}

// reloadLogLevel applies log.level from a fresh read of every source. Other
// settings take effect on restart.
func reloadLogLevel(loader *confloader.Loader, log *slog.Logger) {
	cfg := config.Default()
	if err := loader.Reload(cfg); err != nil {
		log.Error("config reload failed", "error", err)
		return
	}
	before := logger.GetLevel()
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Error("invalid log level on reload", "level", cfg.Log.Level, "error", err)
		return
	}
	if after := logger.GetLevel(); after != before {
		log.Info("log level changed", "from", before, "to", after)
	}
}
