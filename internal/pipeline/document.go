package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"gopkg.in/yaml.v3"
)

// Format is a declaration document syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat accepts a format name, case-insensitively. "yml" is YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "toml":
		return FormatTOML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported document format %q", s)
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer document format of %q without an extension", path)
	}
	return ParseFormat(ext)
}

// localDate marks a calendar date without a time of day. Native TOML and
// YAML dates decode to it.
type localDate struct {
	time.Time
}

// ParseDocument decodes data into a generic tree of map[string]any, []any
// and scalars. Integers are int64, floats float64, date-times time.Time.
func ParseDocument(data []byte, format Format) (map[string]any, error) {
	var (
		tree any
		err  error
	)
	switch format {
	case FormatTOML:
		tree, err = parseTOML(data)
	case FormatYAML:
		tree, err = parseYAML(data)
	case FormatJSON:
		tree, err = parseJSON(data)
	default:
		return nil, dferrors.NewParseError("", "unsupported document format %q", format)
	}
	if err != nil {
		return nil, &dferrors.ParseError{Message: fmt.Sprintf("invalid %s document", format), Cause: err}
	}
	if tree == nil {
		return map[string]any{}, nil
	}
	doc, ok := tree.(map[string]any)
	if !ok {
		return nil, dferrors.NewParseError("", "expected a table at the document root, got %s", describe(tree))
	}
	return doc, nil
}

func parseTOML(data []byte) (any, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return normalizeTOML(doc), nil
}

func normalizeTOML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalizeTOML(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeTOML(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeTOML(item)
		}
		return out
	case time.Time:
		// Local TOML values carry the decoder's named zones.
		switch x.Location().String() {
		case "date-local":
			return localDate{time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, time.UTC)}
		case "datetime-local":
			return time.Date(x.Year(), x.Month(), x.Day(), x.Hour(), x.Minute(), x.Second(), x.Nanosecond(), time.UTC)
		case "time-local":
			return x.Format("15:04:05.999999999")
		}
		return x
	case int:
		return int64(x)
	}
	return v
}

func parseYAML(data []byte) (any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	return yamlValue(root.Content[0])
}

func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return yamlValue(n.Content[0])
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := yamlValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[n.Content[i].Value] = v
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, len(n.Content))
		for i, c := range n.Content {
			v, err := yamlValue(c)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		err := n.Decode(&b)
		return b, err
	case "!!int":
		var i int64
		err := n.Decode(&i)
		return i, err
	case "!!float":
		var f float64
		err := n.Decode(&f)
		return f, err
	case "!!timestamp":
		var t time.Time
		if err := n.Decode(&t); err != nil {
			return nil, err
		}
		if len(strings.TrimSpace(n.Value)) == len(time.DateOnly) {
			return localDate{t.UTC()}, nil
		}
		return t, nil
	}
	return n.Value, nil
}

func parseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return normalizeJSON(tree), nil
}

func normalizeJSON(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			x[k] = normalizeJSON(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = normalizeJSON(item)
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	}
	return v
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "table"
	case []any:
		return "array"
	case string:
		return "string"
	case int64:
		return "integer"
	case float64:
		return "float"
	case bool:
		return "boolean"
	case localDate:
		return "date"
	case time.Time:
		return "datetime"
	}
	return fmt.Sprintf("%T", v)
}
