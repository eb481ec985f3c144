package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/relbox/history"
)

var (
	replayCmd = &cobra.Command{
		Use:   "replay <history.jsonl>...",
		Short: "Replay histories of list-append transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE:  replayRun,
	}

	generateCmd = &cobra.Command{
		Use:   "generate <history.jsonl>",
		Short: "Generate a history of list-append transactions",
		Args:  cobra.ExactArgs(1),
		RunE:  generateRun,
	}

	genCfg = history.Config{
		Seed:      1,
		Processes: 10,
		Keys:      8,
		Events:    10000,
		MaxOps:    4,
	}
)

func init() {
	relboxCmd.AddCommand(replayCmd)

	fs := generateCmd.Flags()
	fs.Int64Var(&genCfg.Seed, "seed", genCfg.Seed, "random `seed`")
	fs.IntVar(&genCfg.Processes, "processes", genCfg.Processes, "`number` of processes")
	fs.IntVar(&genCfg.Keys, "keys", genCfg.Keys, "`number` of lists")
	fs.IntVar(&genCfg.Events, "events", genCfg.Events, "minimum `number` of events")
	fs.IntVar(&genCfg.MaxOps, "max-ops", genCfg.MaxOps, "maximum operations per transaction")
	fs.IntVar(&genCfg.AbortPercent, "abort-percent", genCfg.AbortPercent,
		"`percent` of transactions which fail without a conflict")
	relboxCmd.AddCommand(generateCmd)
}

func replayFile(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	events, err := history.Parse(f)
	if err != nil {
		return err
	}

	rb, err := openRelBox()
	if err != nil {
		return err
	}
	defer rb.Close()

	res, err := history.Replay(rb, events)
	if err != nil {
		return err
	}

	st := rb.Stats()
	log.WithFields(log.Fields{
		"file":      filename,
		"events":    res.Events,
		"commits":   res.Commits,
		"rollbacks": res.Rollbacks,
		"conflicts": st.Conflicts,
	}).Info("replay")
	fmt.Printf("%s: %d events: %d commits, %d rollbacks\n", filename, res.Events, res.Commits,
		res.Rollbacks)
	return nil
}

func replayRun(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		err := replayFile(arg)
		if err != nil {
			return fmt.Errorf("relbox: %s: %w", arg, err)
		}
	}
	return nil
}

func generateRun(cmd *cobra.Command, args []string) error {
	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("relbox: %s", err)
	}

	events := history.Generate(genCfg)
	err = history.Write(f, events)
	if err != nil {
		f.Close()
		return fmt.Errorf("relbox: %s: %s", args[0], err)
	}
	return f.Close()
}
