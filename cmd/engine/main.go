package main

import (
	"os"

	"github.com/spf13/cobra"

	"microbatch/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "microbatch",
	Short: "Micro-batch stream processor over Kafka offsets",
	Long: `microbatch plans fixed-interval batches as per-partition offset ranges,
checkpoints them and hands them to the configured sinks.
`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		logging.InitFromEnv()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkpointsCmd())
	rootCmd.AddCommand(healthCmd())
}
