package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	version = "relbox 0.1.0"
)

func init() {
	relboxCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of Relbox",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		})
}
