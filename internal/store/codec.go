package store

import (
	"encoding/json"
	"fmt"

	"rulelayer/internal/logging"
)

// The JSON columns are untrusted. Decoding failures degrade to "absent" so
// one bad row never fails a whole layer; the normalizer decides what survives.

func decodeUntyped(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		logging.StoreWarn("Undecodable JSON column (%d bytes): %v", len(data), err)
		return nil
	}
	return v
}

func decodeKeywords(data []byte, owner string) []string {
	if len(data) == 0 {
		return nil
	}
	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		logging.StoreWarn("Dropping keywords of hook %q: %v", owner, err)
		return nil
	}
	return words
}

func decodePayload(data []byte, owner string) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		logging.StoreWarn("Dropping payload of formula %q: %v", owner, err)
		return nil
	}
	return payload
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}
