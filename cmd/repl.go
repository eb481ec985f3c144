package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/leftmike/relbox/repl"
)

var (
	replCmd = &cobra.Command{
		Use:   "repl [file]...",
		Short: "Run with an interactive console session",
		RunE:  replRun,
	}
)

func init() {
	relboxCmd.AddCommand(replCmd)
}

func replRun(cmd *cobra.Command, args []string) error {
	rb, err := openRelBox()
	if err != nil {
		return err
	}
	defer rb.Close()

	rpl := repl.NewRepl(rb, os.Stdout)
	for _, arg := range args {
		f, err := os.Open(arg)
		if err != nil {
			return err
		}
		rpl.Run(f)
		f.Close()
	}

	if len(args) == 0 {
		rpl.Interact()
	}
	return nil
}
