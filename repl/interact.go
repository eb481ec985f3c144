package repl

import (
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"
)

const (
	relboxHistory = ".relbox_history"
)

// Interact runs an interactive console on the terminal until end of input.
func (rpl *Repl) Interact() {
	line := liner.NewLiner()
	defer line.Close()

	if f, err := os.Open(relboxHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	for {
		prompt := "relbox> "
		if rpl.tx != nil {
			prompt = fmt.Sprintf("relbox(%d)> ", rpl.tx.ID())
		}
		s, err := line.Prompt(prompt)
		if err == io.EOF || err == liner.ErrPromptAborted {
			break
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "relbox: %s\n", err)
			break
		}
		line.AppendHistory(s)
		rpl.Line(s)
	}
	rpl.Close()

	if f, err := os.Create(relboxHistory); err != nil {
		fmt.Fprintf(os.Stderr, "relbox: error writing history file, %s: %s", relboxHistory, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
}
