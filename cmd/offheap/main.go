package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/offheapio/offheap/internal/manifest"
	"github.com/offheapio/offheap/pkg/offheap"
	"github.com/offheapio/offheap/pkg/server"
)

func main() {
	configPath := flag.String("config", "offheap.toml", "Path to the manifest file")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	m, err := manifest.Load(*configPath)
	if err != nil {
		logger.Fatal("loading manifest failed", zap.Error(err))
	}

	// Persistence targets must exist before validation opens them.
	for _, spec := range m.Collections {
		if spec.PersistedTo == "" {
			continue
		}
		if err := touch(spec.PersistedTo); err != nil {
			logger.Fatal("preparing persistence file failed",
				zap.String("collection", spec.Name), zap.Error(err))
		}
	}

	collections, err := m.Build(logger)
	if err != nil {
		logger.Fatal("building collections failed", zap.Error(err))
	}
	defer func() {
		for name, c := range collections {
			if err := c.Close(); err != nil {
				logger.Warn("closing collection failed",
					zap.String("collection", name), zap.Error(err))
			}
		}
	}()
	logger.Info("collections ready", zap.Int("count", len(collections)))

	var srv *server.Server
	if m.Server.Listen != "" && m.Server.Serve != "" {
		served, ok := collections[m.Server.Serve].(*offheap.Map)
		if !ok {
			logger.Fatal("served collection must be a map",
				zap.String("collection", m.Server.Serve))
		}
		maxConns := m.Server.MaxConns
		if maxConns <= 0 {
			maxConns = 1024
		}
		srv = server.NewWithOptions(served, m.Server.Listen, logger, maxConns)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Fatal("server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	logger.Info("started")
	<-quit
	logger.Info("shutting down")
	if srv != nil {
		srv.Stop()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// touch creates the file when absent, leaving existing content alone.
func touch(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
