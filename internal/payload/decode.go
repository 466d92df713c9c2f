package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// ErrNotObject is returned by Decode when the body is valid JSON but not an
// object, or has trailing content.
var ErrNotObject = errors.New("payload: body is not a JSON object")

// Decode parses a request body into a JSON object. Numbers are kept as
// json.Number so integers beyond 2^53 survive storage unchanged.
func Decode(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("payload: decode: %w", err)
	}
	if out == nil {
		return nil, ErrNotObject
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, ErrNotObject
	}
	return out, nil
}
