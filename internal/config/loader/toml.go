package loader

import (
	"errors"

	"github.com/pelletier/go-toml/v2"
)

// TOML is the TOML codec.
var TOML Codec = tomlCodec{}

type tomlCodec struct{}

func (tomlCodec) Name() string         { return "toml" }
func (tomlCodec) Extensions() []string { return []string{".toml"} }

func (tomlCodec) Decode(data []byte) (map[string]any, error) {
	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		perr := &ParseError{Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return nil, perr
	}
	return normalize(config)
}

// Encode renders data as TOML. TOML has no null, so nil values are dropped.
func (tomlCodec) Encode(data map[string]any) ([]byte, error) {
	return toml.Marshal(dropNils(data))
}

func dropNils(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case nil:
			continue
		case map[string]any:
			out[k] = dropNils(val)
		default:
			out[k] = v
		}
	}
	return out
}
