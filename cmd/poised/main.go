// Poised is the interview capture-and-scoring daemon.
//
// It loads configuration, starts the HTTP/WebSocket server, and runs the
// session manager against either the synthetic capture device or frames
// relayed from a browser publisher. Shutdown is handled gracefully on SIGINT
// or SIGTERM.
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/large-farva/poise/internal/app"
	"github.com/large-farva/poise/internal/config"
)

const defaultConfigPath = "/etc/poise/poise.toml"

func main() {
	var (
		configPath = pflag.StringP("config", "c", defaultConfigPath, "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides server.bind)")
		demo       = pflag.Bool("demo", false, "Force demo mode with auto-started sessions")
	)
	pflag.Parse()

	cfg, path, err := loadConfig(*configPath, pflag.CommandLine.Changed("config"))
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}
	if *demo {
		cfg.Demo.Enabled = true
		cfg.Demo.AutoStart = true
		cfg.Detector.Kind = "demo"
		cfg.Media.Source = "synthetic"
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		logrus.WithError(err).Fatal("logger setup failed")
	}
	if path == "" {
		logger.WithField("path", *configPath).Warn("config file not found, using defaults")
	}

	a, err := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: path,
		Bind:       *bind,
	})
	if err != nil {
		logger.WithError(err).Fatal("poised setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.WithError(err).Fatal("poised failed")
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}

// loadConfig reads the config file. A missing file at the default location
// falls back to the built-in defaults and returns an empty path, which
// disables /api/reload.
func loadConfig(path string, explicit bool) (config.Config, string, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, path, nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		cfg = config.Default()
		return cfg, "", config.Validate(cfg)
	default:
		return cfg, "", err
	}
}
