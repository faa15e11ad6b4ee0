package main

import (
	"context"
	"flag"
	"log"

	"clipstitch/internal/config"
	"clipstitch/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	envFile := flag.String("env-file", ".env", "Environment file loaded before the configuration")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		log.Fatalf("load env: %v", err)
	}
	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("clipstitchd: %v", err)
	}
}
