// Command tokengen prints one freshly signed short-lived data-source token,
// for manual calls against the party service.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/frethen/casenotify/internal/config"
	"github.com/frethen/casenotify/internal/registry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.LoadForTool()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	tokens := registry.NewTokenSource(cfg.Sources.TokenIssuer, cfg.Sources.TokenSecret, cfg.TokenTTL())
	token, err := tokens.Token()
	if err != nil {
		slog.Error("Failed to mint token", "error", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
