package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"mimic/internal/config"
	"mimic/internal/logger"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

var configPath = flag.String("config", "", "path to the YAML config file (default $MIMIC_CONFIG or configs/config.yaml)")

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("MIMIC_CONFIG")); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&runCmd{}, "")
	commander.Register(&serveCmd{}, "")
	commander.Register(&statusCmd{}, "")

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := commander.Execute(ctx)
	stop()
	os.Exit(int(code))
}

// loadConfig reads the config and routes logs to stdout plus the optional
// log file. The returned closer is never nil.
func loadConfig() (*config.Config, func(), error) {
	p := strings.TrimSpace(*configPath)
	if p == "" {
		p = defaultConfigPath()
	}
	cfg, err := config.Load(p)
	if err != nil {
		return nil, func() {}, err
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	f, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, func() {}, err
	}
	closer := func() {}
	if f != nil {
		closer = func() { _ = f.Close() }
	}
	logger.Infof("config loaded (env=%s, file=%s)", cfg.App.Env, p)
	return cfg, closer, nil
}

func setupLogOutput(p string) (*os.File, error) {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
