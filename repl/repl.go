// Package repl is a line oriented console for a RelBox.
package repl

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/olekukonko/tablewriter"

	"github.com/leftmike/relbox/relbox"
	"github.com/leftmike/relbox/tuples"
)

const help = `begin                          start a transaction
commit                         commit the transaction
rollback                       roll back the transaction
insert <rel> <domain> <codomain>
update <rel> <domain> <codomain>
upsert <rel> <domain> <codomain>
delete <rel> <domain>
get <rel> <domain>             find the tuple with domain
find <rel> <codomain>          find the tuples with codomain
scan <rel>                     list every tuple of the relation
stats                          show statistics
help                           show this help
Values starting with 0x are hex; outside of a transaction, each command runs in its own.`

var (
	errUsage = errors.New("repl: wrong number of arguments; try help")
)

type Repl struct {
	rb *relbox.RelBox
	tx *relbox.Transaction
	w  io.Writer
}

func NewRepl(rb *relbox.RelBox, w io.Writer) *Repl {
	return &Repl{
		rb: rb,
		w:  w,
	}
}

// Run reads commands from r until EOF; an open transaction is rolled back at the end.
func (rpl *Repl) Run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		rpl.Line(scanner.Text())
	}
	rpl.Close()
}

func (rpl *Repl) Close() {
	if rpl.tx != nil {
		rpl.tx.Rollback()
		rpl.tx = nil
	}
}

func (rpl *Repl) Line(line string) {
	args := strings.Fields(line)
	if len(args) == 0 || strings.HasPrefix(args[0], "#") {
		return
	}

	err := rpl.command(strings.ToLower(args[0]), args[1:])
	if err != nil {
		fmt.Fprintln(rpl.w, err)
	}
}

func (rpl *Repl) command(cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(rpl.w, help)
		return nil
	case "stats":
		st := rpl.rb.Stats()
		fmt.Fprintf(rpl.w, "commit ts: %d\ncommits: %d\nconflicts: %d\nactive: %d\n",
			st.CommitTS, st.Commits, st.Conflicts, st.Active)
		fmt.Fprintf(rpl.w, "tuples: %d\nretired: %d\npages: %d\nused bytes: %d\n", st.Tuples,
			st.Retired, st.Pages, st.UsedBytes)
		return nil
	case "begin":
		if rpl.tx != nil {
			return fmt.Errorf("repl: transaction %d already started", rpl.tx.ID())
		}
		rpl.tx = rpl.rb.StartTx()
		fmt.Fprintf(rpl.w, "transaction %d started at ts %d\n", rpl.tx.ID(), rpl.tx.StartTS())
		return nil
	case "commit", "rollback":
		if rpl.tx == nil {
			return errors.New("repl: no transaction")
		}
		tx := rpl.tx
		rpl.tx = nil
		if cmd == "rollback" {
			tx.Rollback()
			fmt.Fprintf(rpl.w, "transaction %d rolled back\n", tx.ID())
			return nil
		}
		err := tx.Commit()
		if err != nil {
			return err
		}
		fmt.Fprintf(rpl.w, "transaction %d committed\n", tx.ID())
		return nil
	}

	fn, ok := relationCommands[cmd]
	if !ok {
		return fmt.Errorf("repl: unknown command: %s; try help", cmd)
	}
	if len(args) == 0 {
		return errUsage
	}
	rid, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil || rid >= uint64(rpl.rb.NumRelations()) {
		return fmt.Errorf("repl: bad relation: %s; have %d relations", args[0],
			rpl.rb.NumRelations())
	}

	vals := make([][]byte, 0, len(args)-1)
	for _, arg := range args[1:] {
		val, err := parseValue(arg)
		if err != nil {
			return err
		}
		vals = append(vals, val)
	}

	tx := rpl.tx
	if tx == nil {
		tx = rpl.rb.StartTx()
	}
	err = fn(rpl, tx.Relation(relbox.RelationID(rid)), vals)
	if rpl.tx == nil {
		if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}
	return err
}

var relationCommands = map[string]func(rpl *Repl, txr *relbox.TxRelation,
	vals [][]byte) error{

	"insert": func(rpl *Repl, txr *relbox.TxRelation, vals [][]byte) error {
		if len(vals) != 2 {
			return errUsage
		}
		_, err := txr.InsertTuple(vals[0], vals[1])
		return rpl.changed(err, "inserted")
	},
	"update": func(rpl *Repl, txr *relbox.TxRelation, vals [][]byte) error {
		if len(vals) != 2 {
			return errUsage
		}
		_, err := txr.UpdateTuple(vals[0], vals[1])
		return rpl.changed(err, "updated")
	},
	"upsert": func(rpl *Repl, txr *relbox.TxRelation, vals [][]byte) error {
		if len(vals) != 2 {
			return errUsage
		}
		_, err := txr.UpsertTuple(vals[0], vals[1])
		return rpl.changed(err, "upserted")
	},
	"delete": func(rpl *Repl, txr *relbox.TxRelation, vals [][]byte) error {
		if len(vals) != 1 {
			return errUsage
		}
		return rpl.changed(txr.RemoveByDomain(vals[0]), "deleted")
	},
	"get": func(rpl *Repl, txr *relbox.TxRelation, vals [][]byte) error {
		if len(vals) != 1 {
			return errUsage
		}
		tr, err := txr.SeekUniqueByDomain(vals[0])
		if err != nil {
			return err
		}
		rpl.table([]tuples.TupleRef{tr})
		return nil
	},
	"find": func(rpl *Repl, txr *relbox.TxRelation, vals [][]byte) error {
		if len(vals) != 1 {
			return errUsage
		}
		trs, err := txr.SeekByCodomain(vals[0])
		if err != nil {
			return err
		}
		rpl.table(trs)
		return nil
	},
	"scan": func(rpl *Repl, txr *relbox.TxRelation, vals [][]byte) error {
		if len(vals) != 0 {
			return errUsage
		}
		trs, err := txr.PredicateScan(nil)
		if err != nil {
			return err
		}
		rpl.table(trs)
		return nil
	},
}

func (rpl *Repl) changed(err error, what string) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(rpl.w, "1 tuple %s\n", what)
	return nil
}

func (rpl *Repl) table(trs []tuples.TupleRef) {
	WriteTable(rpl.w, trs)
	fmt.Fprintf(rpl.w, "(%d tuples)\n", len(trs))
}

// WriteTable renders tuples as a table with a row per tuple.
func WriteTable(w io.Writer, trs []tuples.TupleRef) {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetHeader([]string{"domain", "codomain", "ts"})

	for _, tr := range trs {
		tw.Append([]string{FormatValue(tr.Domain()), FormatValue(tr.Codomain()),
			strconv.FormatUint(tr.TS(), 10)})
	}
	tw.Render()
}

func parseValue(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("repl: bad hex value: %s: %s", s, err)
		}
		return b, nil
	}
	return []byte(s), nil
}

// FormatValue returns printable values as is and everything else as hex.
func FormatValue(b []byte) string {
	if len(b) == 0 {
		return "0x"
	}
	s := string(b)
	for _, r := range s {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "0x" + hex.EncodeToString(b)
		}
	}
	if strings.HasPrefix(s, "0x") {
		return "0x" + hex.EncodeToString(b)
	}
	return s
}
