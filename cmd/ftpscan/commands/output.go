package commands

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gjvnq/ftp-scan/pkg/output"
	"github.com/gjvnq/ftp-scan/pkg/output/subscribers"
)

// setupOutputPipeline wires the event stream behind the command's Output
// interface. The --output flag selects the terminal formatter; the -v count
// adds a diagnostic channel on stderr so machine-readable stdout stays clean.
func setupOutputPipeline(cmd *cobra.Command) output.Output {
	stream := output.NewOutputEventStream()

	mode, _ := cmd.Flags().GetString("output")
	if strings.EqualFold(mode, "json") {
		stream.Subscribe(subscribers.NewJSONFormatter(os.Stdout))
	} else {
		colorEnabled := os.Getenv("NO_COLOR") == ""
		stream.Subscribe(subscribers.NewHumanFormatter(os.Stdout, os.Stderr, colorEnabled))
	}

	verbosityCount, _ := cmd.Flags().GetCount("verbosity")
	if verbosityCount > 0 {
		level := output.LevelVerbose
		switch {
		case verbosityCount >= 3:
			level = output.LevelTrace
		case verbosityCount == 2:
			level = output.LevelDebug
		}
		stream.Subscribe(subscribers.NewDiagnosticSubscriber(level, os.Stderr))
	}

	return output.NewDefaultOutput(stream)
}
