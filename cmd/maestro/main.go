package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is stamped by the release build.
var Version = "0.3.0"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "maestro",
		Short: "Multi-agent task orchestration runtime",
		Long: fmt.Sprintf(`%s

maestro runs development tasks through a planner, builder and reviewer
pipeline backed by command-line AI adapters, with per-task GOAP planning,
adapter circuit breaking and a live event stream.

%s
  maestro serve                       # run the orchestration server
  maestro submit "fix the login bug"  # submit a task to a running server
  maestro recent -n 20                # tail recent events
`, bold("maestro "+Version), bold("EXAMPLES:")),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("server", "http://localhost:8099", "address of a running maestro server")

	viper.SetConfigName("maestro")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.maestro")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("MAESTRO")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newRecentCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the maestro version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("maestro %s\n", Version)
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}
