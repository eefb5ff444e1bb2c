package sanitize

import (
	"bytes"
	"encoding/json"
)

var emptyObject = json.RawMessage(`{}`)

// RepairToolInput returns raw unchanged when it is a JSON object and an
// empty object otherwise. repaired reports whether a rewrite happened.
func RepairToolInput(raw json.RawMessage) (out json.RawMessage, repaired bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return append(json.RawMessage(nil), emptyObject...), true
	}
	return raw, false
}
