// Package main is the dicehall server entry point.
package main

import (
	"log"
	"os"

	"github.com/lowroll/dicehall/pkg/config"
	"github.com/lowroll/dicehall/system/orchestrator"
)

// Exit codes (spec.md §6): 0 normal shutdown, 1 configuration error, 2
// storage backend failed to initialize, 3 failed to bind the HTTP listener.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitStoreError    = 2
	exitListenerError = 3
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(exitConfigError)
	}

	app, err := orchestrator.Build(cfg)
	if err != nil {
		log.Printf("startup error: %v", err)
		os.Exit(exitStoreError)
	}

	if err := app.Run(); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(exitListenerError)
	}

	os.Exit(exitOK)
}
