package loader

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// JSON is the JSON codec.
var JSON Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string         { return "json" }
func (jsonCodec) Extensions() []string { return []string{".json"} }

func (jsonCodec) Decode(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return make(map[string]any), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, jsonSyntaxError(data)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, &ParseError{Message: "top-level value must be an object"}
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Message: err.Error(), Err: err}
	}
	return normalize(m)
}

func (jsonCodec) Encode(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// jsonSyntaxError locates the first syntax error in data.
func jsonSyntaxError(data []byte) error {
	var v any
	err := json.Unmarshal(data, &v)
	perr := &ParseError{Message: "invalid JSON", Err: err}

	var serr *json.SyntaxError
	if errors.As(err, &serr) {
		perr.Message = serr.Error()
		perr.Line, perr.Column = lineCol(data, int(serr.Offset))
	}
	return perr
}

func lineCol(data []byte, offset int) (int, int) {
	if offset > len(data) {
		offset = len(data)
	}
	line, col := 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
