package history_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/leftmike/relbox/history"
	"github.com/leftmike/relbox/relbox"
)

const sampleHistory = `
{"index":0,"type":"invoke","process":0,"time":100,"value":[["append",1,1],["r",2,null]]}
{"index":1,"type":"invoke","process":1,"time":200,"value":[["r",1,null]]}
{"index":2,"type":"ok","process":0,"time":300,"value":[["append",1,1],["r",2,[]]]}

{"index":3,"type":"fail","process":1,"time":400,"value":[["r",1,[]]]}
{"index":4,"type":"invoke","process":1,"time":500,"value":[["append",2,2],["r",1,null]]}
{"index":5,"type":"ok","process":1,"time":600,"value":[["append",2,2],["r",1,[1]]]}
`

func openRelBox(t *testing.T, iso relbox.Isolation) *relbox.RelBox {
	t.Helper()

	rb, err := relbox.Open(relbox.Options{
		NumRelations: 8,
		Isolation:    iso,
	})
	if err != nil {
		t.Fatal(err)
	}
	return rb
}

func TestParse(t *testing.T) {
	events, err := history.Parse(strings.NewReader(sampleHistory))
	if err != nil {
		t.Fatalf("Parse() failed with %s", err)
	}
	if len(events) != 6 {
		t.Fatalf("Parse() got %d events want 6", len(events))
	}

	e := events[2]
	if e.Index != 2 || e.Type != history.OK || e.Process != 0 || e.Time != 300 {
		t.Errorf("Parse()[2] got %+v", e)
	}
	if len(e.Value) != 2 {
		t.Fatalf("Parse()[2].Value got %v", e.Value)
	}
	if op := e.Value[0]; op.Func != history.Append || op.Key != 1 || op.Value != 1 {
		t.Errorf("Parse()[2].Value[0] got %s want append(1, 1)", op)
	}
	if op := e.Value[1]; op.Func != history.Read || op.Key != 2 || op.Values == nil ||
		len(op.Values) != 0 {

		t.Errorf("Parse()[2].Value[1] got %s want r(2, [])", op)
	}
	if op := events[0].Value[1]; op.Values != nil {
		t.Errorf("Parse()[0].Value[1] got %s want r(2, nil)", op)
	}
	if events[3].Type != history.Fail {
		t.Errorf("Parse()[3].Type got %s want fail", events[3].Type)
	}

	bad := []string{
		`{"index":0,"type":"info","process":0,"time":0,"value":[]}`,
		`{"index":0,"type":"ok","process":0,"time":0,"value":[["cas",1,1]]}`,
		`{"index":0,"type":"ok","process":0,"time":0,"value":[["append",1]]}`,
		`{"index":0,`,
	}
	for _, b := range bad {
		_, err := history.Parse(strings.NewReader(b))
		if err == nil {
			t.Errorf("Parse(%s) did not fail", b)
		}
	}
}

func TestReplay(t *testing.T) {
	events, err := history.Parse(strings.NewReader(sampleHistory))
	if err != nil {
		t.Fatal(err)
	}

	rb := openRelBox(t, relbox.Serializable)
	defer rb.Close()

	res, err := history.Replay(rb, events)
	if err != nil {
		t.Fatalf("Replay() failed with %s", err)
	}
	if res.Events != 6 || res.Commits != 2 || res.Rollbacks != 1 {
		t.Errorf("Replay() got %+v", res)
	}
}

func TestReplayFailures(t *testing.T) {
	cases := []string{
		// Read of a value which was never appended.
		`{"index":0,"type":"invoke","process":0,"time":0,"value":[["r",1,[5]]]}`,
		// Completion without an invoke.
		`{"index":0,"type":"ok","process":0,"time":0,"value":[]}`,
		// Two invokes by one process.
		`{"index":0,"type":"invoke","process":0,"time":0,"value":[]}
{"index":1,"type":"invoke","process":0,"time":0,"value":[]}`,
		// Key out of range.
		`{"index":0,"type":"invoke","process":0,"time":0,"value":[["append",8,1]]}`,
		// Duplicate append.
		`{"index":0,"type":"invoke","process":0,"time":0,"value":[["append",1,1],["append",1,1]]}`,
		// Completion checks an append which was not made.
		`{"index":0,"type":"invoke","process":0,"time":0,"value":[]}
{"index":1,"type":"ok","process":0,"time":0,"value":[["append",1,1]]}`,
		// Lost update: both commit after reading the same list and appending to it.
		`{"index":0,"type":"invoke","process":0,"time":0,"value":[["r",1,null],["append",1,1]]}
{"index":1,"type":"invoke","process":1,"time":0,"value":[["r",1,null],["append",1,2]]}
{"index":2,"type":"ok","process":0,"time":0,"value":[["r",1,[1]],["append",1,1]]}
{"index":3,"type":"ok","process":1,"time":0,"value":[["r",1,[2]],["append",1,2]]}`,
	}

	for _, c := range cases {
		events, err := history.Parse(strings.NewReader(c))
		if err != nil {
			t.Fatalf("Parse(%s) failed with %s", c, err)
		}

		rb := openRelBox(t, relbox.Serializable)
		_, err = history.Replay(rb, events)
		if err == nil {
			t.Errorf("Replay(%s) did not fail", c)
		}
		if st := rb.Stats(); st.Active != 0 {
			t.Errorf("Replay(%s) left %d active transactions", c, st.Active)
		}
		rb.Close()
	}
}

func TestReplayConflict(t *testing.T) {
	events, err := history.Parse(strings.NewReader(
		`{"index":0,"type":"invoke","process":0,"time":0,"value":[["r",1,null],["append",1,1]]}
{"index":1,"type":"invoke","process":1,"time":0,"value":[["r",1,null],["append",1,2]]}
{"index":2,"type":"ok","process":0,"time":0,"value":[["r",1,[1]],["append",1,1]]}
{"index":3,"type":"ok","process":1,"time":0,"value":[["r",1,[2]],["append",1,2]]}`))
	if err != nil {
		t.Fatal(err)
	}

	rb := openRelBox(t, relbox.Serializable)
	defer rb.Close()

	_, err = history.Replay(rb, events)
	if !errors.Is(err, relbox.ErrConflict) {
		t.Errorf("Replay() got %v want ErrConflict", err)
	}
}

func TestGenerateReplay(t *testing.T) {
	cases := []history.Config{
		{Seed: 1, Processes: 1, Keys: 1, Events: 100},
		{Seed: 2, Processes: 5, Keys: 3, Events: 1000},
		{Seed: 3, Processes: 10, Keys: 8, Events: 2000, MaxOps: 6, AbortPercent: 10},
		{Seed: 4, Processes: 20, Keys: 2, Events: 2000},
	}

	for _, cfg := range cases {
		events := history.Generate(cfg)
		if len(events) < cfg.Events {
			t.Errorf("Generate(%+v) got %d events", cfg, len(events))
		}

		var buf bytes.Buffer
		err := history.Write(&buf, events)
		if err != nil {
			t.Fatalf("Write() failed with %s", err)
		}
		events, err = history.Parse(&buf)
		if err != nil {
			t.Fatalf("Parse() failed with %s", err)
		}

		for _, iso := range []relbox.Isolation{relbox.Serializable, relbox.SnapshotIsolation} {
			rb := openRelBox(t, iso)
			res, err := history.Replay(rb, events)
			if err != nil {
				t.Errorf("Replay(%+v, %s) failed with %s", cfg, iso, err)
			} else if res.Commits+res.Rollbacks != res.Events/2 {
				t.Errorf("Replay(%+v, %s) got %+v", cfg, iso, res)
			}
			if st := rb.Stats(); st.Active != 0 || st.Retired != 0 {
				t.Errorf("Replay(%+v, %s) Stats() got %+v", cfg, iso, st)
			}
			rb.Close()
		}
	}
}
