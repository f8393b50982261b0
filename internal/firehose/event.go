package firehose

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream. The record is kept
// undecoded for the normalizer.
type jetstreamCommit struct {
	Rev        string         `json:"rev"`
	Operation  string         `json:"operation"`
	Collection string         `json:"collection"`
	RKey       string         `json:"rkey"`
	Record     map[string]any `json:"record,omitempty"`
	CID        string         `json:"cid"`
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var event jetstreamEvent
	if err := dec.Decode(&event); err != nil {
		return nil, eris.Wrap(err, "firehose: unmarshal event")
	}
	if event.Kind == "commit" && event.Commit == nil {
		return nil, eris.Errorf("firehose: commit event %d without commit", event.TimeUS)
	}
	return &event, nil
}

// payload rebuilds the event in the shape accepted by
// bluesky.NormalizePartialPost.
func (e *jetstreamEvent) payload() map[string]any {
	return map[string]any{
		"did":     e.DID,
		"time_us": e.TimeUS,
		"kind":    e.Kind,
		"commit": map[string]any{
			"rev":        e.Commit.Rev,
			"operation":  e.Commit.Operation,
			"collection": e.Commit.Collection,
			"rkey":       e.Commit.RKey,
			"cid":        e.Commit.CID,
			"record":     e.Commit.Record,
		},
	}
}
