package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// version is set via ldflags at build time
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the command tree. Output of the commands goes to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "extractor",
		Short: "Extract node usage metrics into a forecasting series table",
		Long: `extractor fetches raw node metrics from a metrics store, drops rows that
cannot be parsed, averages them into fixed-width time buckets and writes one
series per node and metric as Timestamp, Value, item_id.`,
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default: $USAGECAST_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd(os.Stdout).Execute()
}
