package commands

import (
	"log/slog"
	"os"
	"strings"

	"rwaadmin/internal/config"
)

func configureLogger(cfg config.LogConfig, override string) error {
	level := cfg.Level
	if strings.TrimSpace(override) != "" {
		level = override
	}
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return err
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
