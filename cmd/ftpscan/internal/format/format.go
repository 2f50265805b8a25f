// Package format renders command results in the output mode selected by the
// --output flag, so every subcommand reports success and failure the same way.
package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Formatter adapts command output to the selected rendering mode.
type Formatter struct {
	JSON bool
}

// FromCommand builds a Formatter from the command's --output flag. Commands
// without that flag render as text.
func FromCommand(cmd *cobra.Command) Formatter {
	mode, err := cmd.Flags().GetString("output")
	if err != nil {
		return Formatter{}
	}
	return Formatter{JSON: strings.EqualFold(mode, "json")}
}

// PrintJSON renders v as indented JSON on stdout.
func (f Formatter) PrintJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// PrintTotalFailureSummary reports an operation that produced no usable
// result. In JSON mode it prints a machine-readable summary first; the
// original error is returned either way so the process exits non-zero.
func (f Formatter) PrintTotalFailureSummary(operation string, err error, code string) error {
	if f.JSON {
		_ = f.PrintJSON(map[string]any{
			"operation": operation,
			"status":    "failed",
			"code":      code,
			"error":     err.Error(),
		})
	}
	return err
}
