package codec

import gojson "github.com/goccy/go-json"

// GoJSON is a drop-in, faster JSON codec backed by goccy/go-json. It is
// wire-compatible with JSON (same struct tags, same output shape), so a
// file written with one can be read back with the other as long as the
// self-describing codec name on the header is consulted.
type GoJSON struct{}

// Marshal encodes the value to JSON using the go-json encoder.
func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

// Unmarshal decodes JSON data into v using the go-json decoder.
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

// Name returns the unique name of the codec ("go-json").
func (GoJSON) Name() string { return "go-json" }
