// Package json wraps goccy/go-json so every package in nebula-sync encodes
// records, state blobs and events the same way.
package json

import (
	"bytes"
	"io"

	gojson "github.com/goccy/go-json"
)

// Number is a JSON number literal preserved as text.
type Number = gojson.Number

// RawMessage is a raw encoded JSON value.
type RawMessage = gojson.RawMessage

// Marshal encodes v. Map keys are emitted in sorted order.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent encodes v with indentation.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// UnmarshalNumbers decodes data into v keeping numbers as Number so integer
// cursors survive a round trip through interface{} maps.
func UnmarshalNumbers(data []byte, v interface{}) error {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *gojson.Encoder {
	return gojson.NewEncoder(w)
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *gojson.Decoder {
	return gojson.NewDecoder(r)
}

// MarshalString encodes v and returns it as a string, falling back to an
// empty string when v cannot be encoded.
func MarshalString(v interface{}) string {
	data, err := gojson.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Valid reports whether data is valid JSON.
func Valid(data []byte) bool {
	return gojson.Valid(data)
}
