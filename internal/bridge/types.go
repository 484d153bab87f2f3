package bridge

import (
	"encoding/json"
	"fmt"
)

// CorrelationIDField is the queue item field linking a lookup to its reply
const CorrelationIDField = "correlationId"

// QueueItem is one pending lookup produced by the bridge. Opaque apart from correlationId.
type QueueItem map[string]any

// CorrelationID returns the item's correlation id as a string, or "" when absent
func (q QueueItem) CorrelationID() string {
	v, ok := q[CorrelationIDField]
	if !ok || v == nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// Fields returns a copy of the item suitable for adding derived template fields
func (q QueueItem) Fields() map[string]any {
	fields := make(map[string]any, len(q)+2)
	for k, v := range q {
		fields[k] = v
	}
	return fields
}

// ReturnEnvelope is posted back to the bridge once an item's lookup completes.
// CorrelationID always equals the originating item's correlationId.
type ReturnEnvelope struct {
	CorrelationID any    `json:"correlationId"`
	PDSData       any    `json:"pdsData"`
	Error         string `json:"error,omitempty"`
}

// NewReturnEnvelope builds the envelope for an item. The correlation id is
// carried through untouched so the bridge sees the exact value it issued.
func NewReturnEnvelope(item QueueItem, pdsData any, lookupErr error) *ReturnEnvelope {
	envelope := &ReturnEnvelope{
		CorrelationID: item[CorrelationIDField],
		PDSData:       pdsData,
	}
	if lookupErr != nil {
		envelope.Error = lookupErr.Error()
	}
	return envelope
}
