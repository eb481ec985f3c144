package cmd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/relbox/relbox"
)

var (
	stressCmd = &cobra.Command{
		Use:   "stress",
		Short: "Run concurrent transactions incrementing counters",
		Args:  cobra.NoArgs,
		RunE:  stressRun,
	}

	stressThreads    = 8
	stressCounters   = 16
	stressIncrements = 1000
)

func init() {
	fs := stressCmd.Flags()
	fs.IntVar(&stressThreads, "threads", stressThreads, "`number` of goroutines")
	fs.IntVar(&stressCounters, "counters", stressCounters, "`number` of counters")
	fs.IntVar(&stressIncrements, "increments", stressIncrements,
		"`number` of increments per goroutine")

	relboxCmd.AddCommand(stressCmd)
}

func counterKey(n int) []byte {
	return []byte(fmt.Sprintf("counter-%d", n))
}

func readCounter(txr *relbox.TxRelation, domain []byte) (uint64, error) {
	tr, err := txr.SeekUniqueByDomain(domain)
	if err != nil {
		return 0, err
	}
	cod := tr.Codomain()
	if len(cod) != 8 {
		return 0, fmt.Errorf("relbox: stress: %s: got %d byte counter want 8", domain, len(cod))
	}
	return binary.LittleEndian.Uint64(cod), nil
}

func incrementCounter(rb *relbox.RelBox, domain []byte) error {
	tx := rb.StartTx()
	txr := tx.Relation(0)

	n, err := readCounter(txr, domain)
	if err != nil {
		tx.Rollback()
		return err
	}
	_, err = txr.UpdateTuple(domain, binary.LittleEndian.AppendUint64(nil, n+1))
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// sumCounters returns the total of counters 0 through cnt - 1; missing counters are created
// if create is true.
func sumCounters(rb *relbox.RelBox, cnt int, create bool) (uint64, error) {
	tx := rb.StartTx()
	txr := tx.Relation(0)

	var total uint64
	for n := 0; n < cnt; n++ {
		u64, err := readCounter(txr, counterKey(n))
		if create && errors.Is(err, relbox.ErrNotFound) {
			_, err = txr.InsertTuple(counterKey(n), make([]byte, 8))
		}
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		total += u64
	}
	return total, tx.Commit()
}

func stressRun(cmd *cobra.Command, args []string) error {
	if stressThreads <= 0 || stressCounters <= 0 || stressIncrements < 0 {
		return errors.New("relbox: threads, counters, and increments must be positive")
	}

	rb, err := openRelBox()
	if err != nil {
		return err
	}
	defer rb.Close()

	return runStress(rb, stressThreads, stressCounters, stressIncrements)
}

func runStress(rb *relbox.RelBox, threads, counters, increments int) error {
	start, err := sumCounters(rb, counters, true)
	if err != nil {
		return err
	}

	began := time.Now()
	errs := make([]error, threads)
	var wg sync.WaitGroup
	for tdx := 0; tdx < threads; tdx++ {
		wg.Add(1)
		go func(tdx int) {
			defer wg.Done()

			for i := 0; i < increments; i++ {
				domain := counterKey((tdx + i) % counters)
				for {
					err := incrementCounter(rb, domain)
					if err == nil {
						break
					} else if !errors.Is(err, relbox.ErrConflict) {
						errs[tdx] = err
						return
					}
				}
			}
		}(tdx)
	}
	wg.Wait()
	elapsed := time.Since(began)

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	total, err := sumCounters(rb, counters, false)
	if err != nil {
		return err
	}

	st := rb.Stats()
	log.WithFields(log.Fields{
		"commits":   st.Commits,
		"conflicts": st.Conflicts,
		"elapsed":   elapsed,
	}).Info("stress")
	fmt.Printf("%d increments in %s: %d commits, %d conflicts\n", threads*increments, elapsed,
		st.Commits, st.Conflicts)

	want := start + uint64(threads*increments)
	if total != want {
		return fmt.Errorf("relbox: stress: total got %d want %d", total, want)
	}
	return nil
}
