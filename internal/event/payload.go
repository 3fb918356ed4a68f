package event

import (
	"bytes"
	"encoding/json"
	"errors"
)

// decodeObject reads exactly one JSON object. Numbers stay json.Number so
// epoch-millisecond timestamps are not rounded through float64.
func decodeObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("payload is not a JSON object")
	}
	if dec.More() || len(bytes.TrimSpace(b[dec.InputOffset():])) > 0 {
		return nil, errors.New("trailing data after JSON object")
	}
	return obj, nil
}
