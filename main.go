package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"archivist/cmd"
	"archivist/internal/config"
	"archivist/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		cfgLog := logger.WithComponent("main")
		cfgLog.Error().Err(err).Msg("Invalid configuration")
		os.Exit(cmd.ExitFailure)
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	mainLog := logger.WithComponent("main")
	mainLog.Debug().Str("output", cfg.OutputDir).Msg("Starting archivist")

	code := cmd.Execute(cfg)

	mainLog.Debug().Int("exit_code", code).Msg("Archivist shutdown")
	os.Exit(code)
}
