package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leftmike/relbox/relbox"
	"github.com/leftmike/relbox/repl"
)

func init() {
	relboxCmd.AddCommand(
		&cobra.Command{
			Use:   "dump",
			Short: "Print every tuple of every relation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				rb, err := openRelBox()
				if err != nil {
					return err
				}
				defer rb.Close()

				tx := rb.StartTx()
				defer tx.Rollback()

				for rdx := 0; rdx < rb.NumRelations(); rdx++ {
					trs, err := tx.Relation(relbox.RelationID(rdx)).PredicateScan(nil)
					if err != nil {
						return err
					}
					if len(trs) == 0 {
						continue
					}
					fmt.Printf("relation %d:\n", rdx)
					repl.WriteTable(os.Stdout, trs)
				}
				return nil
			},
		})
}
