package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// transcript is the canonical serialized form of a scenario run.
// Timestamps are omitted on purpose: seq order is the contract.
type transcript struct {
	Scenario   string          `json:"scenario"`
	SessionID  string          `json:"session_id"`
	ScriptID   string          `json:"script_id"`
	Status     string          `json:"status"`
	Journal    []journalEntry  `json:"journal"`
	FinalState json.RawMessage `json:"final_state"`
	Errors     []string        `json:"errors,omitempty"`
}

type journalEntry struct {
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// RunWithGolden executes a scenario and compares its transcript
// against testdata/golden/<name>.golden.
func RunWithGolden(t *testing.T, sc *Scenario) {
	t.Helper()

	res, err := Run(sc)
	if err != nil {
		t.Fatalf("scenario %s: %v", sc.Name, err)
	}

	data, err := marshalTranscript(sc.Name, res)
	if err != nil {
		t.Fatalf("scenario %s: %v", sc.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)
}

func marshalTranscript(name string, res *Result) ([]byte, error) {
	tr := transcript{
		Scenario:   name,
		SessionID:  res.SessionID,
		ScriptID:   res.ScriptID,
		Status:     string(res.Status),
		Journal:    make([]journalEntry, len(res.Journal)),
		FinalState: res.FinalState,
		Errors:     res.Errors,
	}
	for i, ev := range res.Journal {
		tr.Journal[i] = journalEntry{Seq: ev.Seq, Type: ev.Type, Payload: ev.Payload}
	}

	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return append(data, '\n'), nil
}
