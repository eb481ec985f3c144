// Package history reads, writes, generates, and replays histories of list-append
// transactions against a RelBox. Each line of a history is a JSON event.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type EventType int

const (
	Invoke EventType = iota
	OK
	Fail
)

var eventTypes = map[EventType]string{
	Invoke: "invoke",
	OK:     "ok",
	Fail:   "fail",
}

func (et EventType) String() string {
	if s, ok := eventTypes[et]; ok {
		return s
	}
	return fmt.Sprintf("EventType(%d)", int(et))
}

func (et EventType) MarshalJSON() ([]byte, error) {
	s, ok := eventTypes[et]
	if !ok {
		return nil, fmt.Errorf("history: unknown event type: %d", int(et))
	}
	return json.Marshal(s)
}

func (et *EventType) UnmarshalJSON(b []byte) error {
	var s string
	err := json.Unmarshal(b, &s)
	if err != nil {
		return err
	}
	for t, n := range eventTypes {
		if n == s {
			*et = t
			return nil
		}
	}
	return fmt.Errorf("history: unknown event type: %s", s)
}

type OpFunc int

const (
	Append OpFunc = iota
	Read
)

// Op is one micro-operation of a transaction. An append adds Value to the list Key; a read
// of the list Key expects at least Values, or nothing if Values is nil.
type Op struct {
	Func   OpFunc
	Key    int64
	Value  int64
	Values []int64
}

func (op Op) String() string {
	if op.Func == Append {
		return fmt.Sprintf("append(%d, %d)", op.Key, op.Value)
	}
	return fmt.Sprintf("r(%d, %v)", op.Key, op.Values)
}

func (op Op) MarshalJSON() ([]byte, error) {
	switch op.Func {
	case Append:
		return json.Marshal([]interface{}{"append", op.Key, op.Value})
	case Read:
		return json.Marshal([]interface{}{"r", op.Key, op.Values})
	}
	return nil, fmt.Errorf("history: unknown op func: %d", int(op.Func))
}

func (op *Op) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	err := json.Unmarshal(b, &raw)
	if err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("history: op: expected 3 elements: %s", string(b))
	}

	var fn string
	err = json.Unmarshal(raw[0], &fn)
	if err != nil {
		return err
	}
	err = json.Unmarshal(raw[1], &op.Key)
	if err != nil {
		return err
	}

	switch fn {
	case "append":
		op.Func = Append
		return json.Unmarshal(raw[2], &op.Value)
	case "r":
		op.Func = Read
		op.Values = nil
		return json.Unmarshal(raw[2], &op.Values)
	}
	return fmt.Errorf("history: op: unknown func: %s", fn)
}

type Event struct {
	Index   int64     `json:"index"`
	Type    EventType `json:"type"`
	Process int64     `json:"process"`
	Time    int64     `json:"time"`
	Value   []Op      `json:"value"`
}

// Parse reads a history; blank lines are skipped.
func Parse(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var ln int
	for scanner.Scan() {
		ln += 1
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var e Event
		err := json.Unmarshal([]byte(line), &e)
		if err != nil {
			return nil, fmt.Errorf("history: line %d: %s", ln, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func Write(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		err := enc.Encode(e)
		if err != nil {
			return err
		}
	}
	return nil
}
