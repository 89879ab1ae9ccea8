package activity

import (
	"encoding/json"
)

type wireBatch struct {
	Events []wireEvent `json:"events"`
}

// EncodeBatch encodes events as {"events":[...]}. If the encoding is larger
// than maxBytes, or cannot be produced at all, the batch is encoded again
// with every payload replaced by {"trimmed":true} and trimmed is true.
// maxBytes <= 0 disables the cap.
func EncodeBatch(events []Event, maxBytes int) (body []byte, trimmed bool) {
	full := wireBatch{Events: make([]wireEvent, len(events))}
	for i, e := range events {
		full.Events[i] = e.wire()
	}

	body, err := json.Marshal(full)
	if err == nil && (maxBytes <= 0 || len(body) <= maxBytes) {
		return body, false
	}

	reduced := wireBatch{Events: make([]wireEvent, len(events))}
	for i, e := range events {
		reduced.Events[i] = e.trimmed()
	}
	// Only strings, null ids and a fixed marker remain, so this cannot fail.
	body, _ = json.Marshal(reduced)
	return body, true
}
