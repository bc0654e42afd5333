// Package utils provides utility functions for CLI commands in Skiff.
package utils

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/skiff-cd/skiff/cmd/output"
)

// HandleCommandError provides consistent error handling for CLI commands
func HandleCommandError(operation string, err error, context ...any) {
	slog.Error("Command failed", append([]any{"operation", operation, "error", err}, context...)...)
	fmt.Fprint(os.Stderr, output.PrintMessage(output.Error, "Error: %s failed: %v", operation, err))
	os.Exit(1)
}
