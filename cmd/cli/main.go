package main

import (
	"os"
	"strings"

	"github.com/nimasrn/smpp-transport/internal/config"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/pg"
)

// main.go --env=.env --dir=./migrations --cmd=up
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	dir := arg("dir", "./migrations")
	command := arg("cmd", "up")
	if err := pg.Migrate(config.Get().PostgresWrite(), dir, command); err != nil {
		logger.Error("migration: error running migrations", "dir", dir, "cmd", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migration: done", "dir", dir, "cmd", command)
}

func getEnvPath() string {
	path := arg("env", ".env")
	if _, err := os.Stat(path); err != nil {
		logger.Warn("env file not found, using process environment", "path", path)
		return ""
	}
	return path
}

func arg(name, def string) string {
	prefix := "--" + name + "="
	for _, v := range os.Args[1:] {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return def
}
