package sqlutil

import (
	"encoding/json"

	"github.com/sqlc-dev/pqtype"
)

// ToNullJSON converts raw JSON into a nullable jsonb parameter. A nil or empty
// slice is written as SQL NULL.
func ToNullJSON(raw []byte) pqtype.NullRawMessage {
	if len(raw) == 0 {
		return pqtype.NullRawMessage{Valid: false}
	}
	return pqtype.NullRawMessage{RawMessage: json.RawMessage(raw), Valid: true}
}

// FromNullJSON converts a scanned jsonb column back to raw bytes, nil when NULL.
func FromNullJSON(val pqtype.NullRawMessage) []byte {
	if !val.Valid {
		return nil
	}
	return []byte(val.RawMessage)
}
