// Command mcp serves the gangboard operator tools to LLM clients over stdio.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	// stdout carries the protocol; logs go to stderr.
	logger := logging.NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), "text")

	cfg, err := mcpserver.ConfigFromEnv(os.Getenv)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting gangboard mcp", "version", mcpserver.Version, "api", cfg.APIURL, "caller", cfg.CallerID)

	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg)); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
