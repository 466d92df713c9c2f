package storage

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ashita-ai/kiroku/internal/model"
)

// EncodeData serializes a payload for storage. A nil map encodes as {}.
func EncodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("storage: encode data: %w", err)
	}
	return b, nil
}

// DecodeData parses a stored payload. Empty input decodes to {}. Numbers
// decode as json.Number so large integers keep every digit.
func DecodeData(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("storage: decode data: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// DecodeUserName extracts data.user.name from a stored payload. Malformed
// payloads and non-string names yield nil, never an error.
func DecodeUserName(raw *string) *string {
	if raw == nil {
		return nil
	}
	data, err := DecodeData([]byte(*raw))
	if err != nil {
		return nil
	}
	return model.UserName(data)
}
