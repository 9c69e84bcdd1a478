package redpanda

import (
	"encoding/json"
	"fmt"

	"github.com/drfirst/go-intake/internal/domain/response"
)

// EventRecord turns a domain event into the record the outbox will publish.
// Records are keyed by patient so merges for one patient stay ordered.
func EventRecord(ev *response.Event) (Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	key := ev.PatientID
	if key == "" {
		key = ev.AggregateID
	}
	return Record{
		Topic: TopicFor(ev.EventType),
		Key:   key,
		Value: value,
		Headers: map[string]string{
			HeaderEventType:   string(ev.EventType),
			HeaderAggregateID: ev.AggregateID,
		},
	}, nil
}

// DecodeEvent parses a consumed record back into the domain event
func DecodeEvent(msg *ConsumedMessage) (*response.Event, error) {
	ev := &response.Event{}
	if err := json.Unmarshal(msg.Value, ev); err != nil {
		return nil, fmt.Errorf("%w: decode event at %s/%d/%d: %v", ErrSkip, msg.Topic, msg.Partition, msg.Offset, err)
	}
	if ev.EventType == "" || ev.AggregateID == "" {
		return nil, fmt.Errorf("%w: event at %s/%d/%d has no type or aggregate", ErrSkip, msg.Topic, msg.Partition, msg.Offset)
	}
	return ev, nil
}
