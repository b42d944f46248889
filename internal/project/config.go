package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// ConfigDocument is the raw decoded shape of elm-watch.json, before
// target-level validation (project.go does that). Field order in the
// source map isn't preserved by encoding/json, so LoadConfigFile recovers key
// order from the raw bytes to satisfy the "configuration order"
// scheduling tie-break.
type ConfigDocument struct {
	Targets map[string]rawTarget `json:"targets"`
}

type rawTarget struct {
	Inputs      []string `json:"inputs"`
	Output      string   `json:"output"`
	Postprocess []string `json:"postprocess,omitempty"`
}

// DecodeError carries a JSON-path-like location for a config decode
// failure, e.g. root["targets"]["main"]["inputs"][0], per spec.md §6.
type DecodeError struct {
	Path  string
	Value any
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("elm-watch.json: %s: %v (got %#v)", e.Path, e.Cause, e.Value)
	}
	return fmt.Sprintf("elm-watch.json: %s: unexpected value %#v", e.Path, e.Value)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// ConfigFileName is the name elm-watch.json is always looked for as,
// relative to the project root.
const ConfigFileName = "elm-watch.json"

// ErrConfigNotFound signals that no config file was found. The CLI
// prints its message ("elm-watch.json not found") as is; no JSON
// template is printed with it.
var ErrConfigNotFound = fmt.Errorf("%s not found", ConfigFileName)

// LoadConfigFile reads and decodes path, returning the document and the
// target names in source order.
func LoadConfigFile(path string) (ConfigDocument, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConfigDocument{}, nil, ErrConfigNotFound
		}
		return ConfigDocument{}, nil, fmt.Errorf("elm-watch.json: read: %w", err)
	}

	var doc ConfigDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return ConfigDocument{}, nil, &DecodeError{Path: `root`, Cause: err}
	}
	for name, t := range doc.Targets {
		if t.Output == "" {
			return ConfigDocument{}, nil, &DecodeError{Path: fmt.Sprintf(`root["targets"][%q]["output"]`, name), Value: t.Output}
		}
		for i, in := range t.Inputs {
			if in == "" {
				return ConfigDocument{}, nil, &DecodeError{Path: fmt.Sprintf(`root["targets"][%q]["inputs"][%d]`, name, i), Value: in}
			}
		}
	}

	order, err := targetOrderFromRawJSON(data)
	if err != nil {
		// Fall back to sorted order — still deterministic, just not
		// source order. This only happens for pathological JSON that
		// decoded successfully above but re-scans oddly, which in
		// practice never occurs for valid elm-watch.json documents.
		order = sortedKeys(doc.Targets)
	}
	return doc, order, nil
}

func sortedKeys(m map[string]rawTarget) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// targetOrderFromRawJSON recovers the order "targets" keys appear in the
// source bytes, since encoding/json discards map key order.
func targetOrderFromRawJSON(data []byte) ([]string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	targetsRaw, ok := top["targets"]
	if !ok {
		return nil, fmt.Errorf("no targets key")
	}
	dec := json.NewDecoder(bytes.NewReader(targetsRaw))
	tok, err := dec.Token() // '{'
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("targets is not an object")
	}
	var order []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("non-string target key")
		}
		order = append(order, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return order, nil
}
