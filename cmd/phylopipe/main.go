package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/biocomp/phylopipe/internal/app"
	"github.com/biocomp/phylopipe/internal/cli"
)

// main is the entrypoint for the phylopipe executor.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling. The zero exit convention holds only when every dataset's
// terminal future resolved successfully.
func run(outW io.Writer, args []string) error {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	pipeApp, err := app.NewApp(outW, appConfig)
	if err != nil {
		return err
	}

	report, err := pipeApp.Run(context.Background())
	if err != nil {
		return err
	}
	if !report.Succeeded() {
		return &cli.ExitError{Code: 1, Message: "one or more datasets failed; see run report above"}
	}
	return nil
}
