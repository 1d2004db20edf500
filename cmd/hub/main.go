// Package main is the entry point for the hub CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/grahama1970/granger-hub/internal/config"
	"github.com/grahama1970/granger-hub/internal/db"
	"github.com/spf13/cobra"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "hub",
		Short: "Route multi-turn conversations between registered modules",
		Long: `Hub is a conversation manager for module-to-module messaging. It tracks
multi-turn exchanges with strict turn ordering, persists every message and
conversation snapshot to SQLite, and times out conversations that go idle.`,
		Version: "0.1.0",
	}

	rootCmd.AddCommand(
		initCmd(),
		createCmd(),
		sendCmd(),
		historyCmd(),
		stateCmd(),
		conversationsCmd(),
		completeCmd(),
		endCmd(),
		analyticsCmd(),
		demoCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// findProjectDir locates the hub project root by searching upward
func findProjectDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".hub")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a hub project (or any parent up to root)")
		}
		dir = parent
	}
}

// requireProject ensures we're in a hub project directory
func requireProject() (string, *db.Store, error) {
	dir, err := findProjectDir()
	if err != nil {
		return "", nil, err
	}

	store, err := db.Open(filepath.Join(dir, ".hub", "hub.db"))
	if err != nil {
		return "", nil, fmt.Errorf("opening database: %w", err)
	}

	return dir, store, nil
}
