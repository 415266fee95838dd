package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var timeoutsCmd = &cobra.Command{
	Use:   "timeouts",
	Short: "Print the effective configuration, including global timeouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(timeoutsCmd)
}
