package loader

import (
	"bytes"
	"errors"

	"gopkg.in/yaml.v3"
)

// YAML is the YAML codec.
var YAML Codec = yamlCodec{}

type yamlCodec struct{}

func (yamlCodec) Name() string         { return "yaml" }
func (yamlCodec) Extensions() []string { return []string{".yaml", ".yml"} }

func (yamlCodec) Decode(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return make(map[string]any), nil
	}

	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		perr := &ParseError{Message: err.Error(), Err: err}
		var terr *yaml.TypeError
		if errors.As(err, &terr) {
			perr.Message = "top-level value must be a mapping"
		}
		return nil, perr
	}
	return normalize(config)
}

func (yamlCodec) Encode(data map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
