// Package main is the entry point for the SecuriWatch detection engine.
package main

import (
	"context"
	"fmt"
	"os"

	"securiwatch/bootstrap"
	"securiwatch/cmd"
)

// run initializes and starts the detection engine.
func run(configPath string) error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx, configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()

	return nil
}

func main() {
	// CLI subcommand mode for rule management.
	if len(os.Args) > 1 && os.Args[1] == "rules" {
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

		rulesCmd := cmd.NewRulesCmd()
		if err := rulesCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := os.Getenv("SECURIWATCH_CONFIG")
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
