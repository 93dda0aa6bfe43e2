package cli

import (
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

const defaultConfigPath = "./gratwin.yaml"

// NewRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gratwin",
		Short:         "Condition-driven task scheduler",
		Long:          `gratwin ticks goal/rule/action units against a shared twin until each goal holds, retries run out, or resets are exhausted.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to config (json or yaml)")
	root.AddCommand(newRunCmd(), newValidateCmd(), newHistoryCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	if p == "" {
		return defaultConfigPath
	}
	return p
}
