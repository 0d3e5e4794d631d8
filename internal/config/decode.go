package config

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"path/filepath"
	"slices"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decode parses a config document. YAML is converted to JSON first so both
// formats go through the same strict decoder.
func decode(name string, data []byte) (*Config, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var err error
		if data, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(name), err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
	case err == nil:
		return nil, fmt.Errorf("decode %s: trailing data after document", filepath.Base(name))
	default:
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(name), err)
	}
	ApplyEnv(&cfg)
	return &cfg, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return out, nil
}

// stringKeys rewrites non-string mapping keys (ints, bools) as strings.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
	}
	return v
}

func fnv64(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// fingerprint is 0 for nil or unencodable configs.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	return Fingerprint(cfg)
}

// Fingerprint hashes the JSON encoding of v, or returns 0 if v can't be encoded.
func Fingerprint(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return fnv64(b)
}

// Fingerprint identifies the settings a plugin is started with: the config
// blob ignoring formatting and key order, plus the allowlist in any order.
// Enabled and timeouts are not part of it.
func (r PluginConfigRaw) Fingerprint() uint64 {
	allow := slices.Clone(r.Allow)
	slices.Sort(allow)

	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], canonicalHashJSON(r.Config))
	_, _ = h.Write(buf[:])
	for _, a := range allow {
		_, _ = h.Write([]byte(a))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// canonicalHashJSON hashes raw after a decode/encode round so key order and
// whitespace don't count as changes.
func canonicalHashJSON(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if json.Unmarshal(raw, &v) == nil {
		if b, err := json.Marshal(v); err == nil {
			return fnv64(b)
		}
	}
	return fnv64(raw)
}
