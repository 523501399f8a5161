// Package config loads simrelay configuration files for kong.
//
// A file may be JSON with comments and trailing commas, or YAML. Keys are
// flag names ("listen", "max-clients" or "max_clients"); command-line
// flags and environment variables take precedence over the file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Loader is a kong.ConfigurationLoader for JSONC and YAML files.
func Loader(r io.Reader) (kong.Resolver, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	js, err := ToJSON(data)
	if err != nil {
		return nil, err
	}
	return kong.JSON(bytes.NewReader(js))
}

// ToJSON normalises a JSONC or YAML document to plain JSON. The top level
// must be an object. Dashes in keys become underscores, which is the form
// kong's JSON resolver looks up.
func ToJSON(data []byte) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("{}"), nil
	}

	var doc map[string]any
	if js := jsonc.ToJSON(data); json.Valid(js) {
		if err := json.Unmarshal(js, &doc); err != nil {
			return nil, fmt.Errorf("parse config: top level must be an object")
		}
	} else if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	js, err := json.Marshal(normalizeKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return js, nil
}

func normalizeKeys(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[strings.ReplaceAll(k, "-", "_")] = normalizeKeys(val)
		}
		return out
	case []any:
		for i := range v {
			v[i] = normalizeKeys(v[i])
		}
		return v
	}
	return v
}
