package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/runmerge/internal/model"
	"github.com/tinytelemetry/runmerge/internal/timestamp"
	"github.com/valyala/fastjson"
	"gopkg.in/yaml.v3"
)

// ConfigMarker precedes the YAML dump of the gNB's effective configuration.
const ConfigMarker = "[CONFIG  ] [I] Input configuration"

// ConfigExtractor captures the YAML block that follows the config marker up
// to the next timestamped log line and flattens it into one untimed record.
type ConfigExtractor struct {
	Parser *timestamp.Parser
	Marker string
}

// NewConfigExtractor creates a config-block extractor.
func NewConfigExtractor(p *timestamp.Parser) *ConfigExtractor {
	return &ConfigExtractor{Parser: p, Marker: ConfigMarker}
}

func (e *ConfigExtractor) Type() model.RecordType { return model.ConfigBlock }

func (e *ConfigExtractor) Match(line string) bool {
	return strings.Contains(line, e.Marker)
}

func (e *ConfigExtractor) Extract(lines []string, i int) ([]*model.Record, int, error) {
	next := i + 1
	for next < len(lines) && !e.Parser.StartsWithTimestamp(lines[next]) {
		next++
	}

	pairs, err := FlattenConfig(strings.Join(lines[i+1:next], "\n"))
	if err != nil {
		return nil, next, err
	}
	if len(pairs) == 0 {
		return nil, next, nil
	}

	rec := model.NewRecord(model.ConfigBlock, time.Time{})
	for _, p := range pairs {
		rec.Fields.Set(p.Key, p.Value)
	}
	return []*model.Record{rec}, next, nil
}

// ConfigPairs returns the flattened pairs carried by a config record.
func ConfigPairs(rec *model.Record) []model.Pair {
	if rec == nil {
		return nil
	}
	keys := rec.Fields.Keys()
	out := make([]model.Pair, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.Pair{Key: k, Value: rec.Fields.GetString(k)})
	}
	return out
}

// FlattenConfig parses a YAML document and flattens it in source order.
// Mappings become dot-joined keys; sequences, and anything nested inside
// them, become compact JSON text; scalars keep their YAML text.
//
//	a: {b: 1, c: [1, 2]}  ->  a.b=1, a.c=[1,2]
func FlattenConfig(text string) ([]model.Pair, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: config block: %v", ErrMalformedPayload, err)
	}
	root := resolve(&doc)
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, nil
		}
		root = resolve(root.Content[0])
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: config block is not a mapping", ErrMalformedPayload)
	}

	var pairs []model.Pair
	if err := flattenMapping("", root, &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

func flattenMapping(prefix string, n *yaml.Node, out *[]model.Pair) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], resolve(n.Content[i+1])

		// "<<: *anchor" merges the referenced mapping into this level.
		if k.Value == "<<" && k.Tag == "!!merge" && v.Kind == yaml.MappingNode {
			if err := flattenMapping(prefix, v, out); err != nil {
				return err
			}
			continue
		}

		key := k.Value
		if prefix != "" {
			key = prefix + "." + k.Value
		}

		switch v.Kind {
		case yaml.MappingNode:
			if len(v.Content) == 0 {
				*out = append(*out, model.Pair{Key: key, Value: "{}"})
				continue
			}
			if err := flattenMapping(key, v, out); err != nil {
				return err
			}
		case yaml.SequenceNode:
			var a fastjson.Arena
			jv, err := nodeJSON(&a, v)
			if err != nil {
				return fmt.Errorf("%w: config key %s: %v", ErrMalformedPayload, key, err)
			}
			*out = append(*out, model.Pair{Key: key, Value: string(jv.MarshalTo(nil))})
		default:
			*out = append(*out, model.Pair{Key: key, Value: v.Value})
		}
	}
	return nil
}

// nodeJSON converts a YAML node into a fastjson value, keeping key order.
func nodeJSON(a *fastjson.Arena, n *yaml.Node) (*fastjson.Value, error) {
	n = resolve(n)
	switch n.Kind {
	case yaml.MappingNode:
		obj := a.NewObject()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := nodeJSON(a, n.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj.Set(n.Content[i].Value, v)
		}
		return obj, nil
	case yaml.SequenceNode:
		arr := a.NewArray()
		for i, item := range n.Content {
			v, err := nodeJSON(a, item)
			if err != nil {
				return nil, err
			}
			arr.SetArrayItem(i, v)
		}
		return arr, nil
	case yaml.ScalarNode:
		return scalarJSON(a, n), nil
	default:
		return nil, fmt.Errorf("unsupported yaml node kind %d", n.Kind)
	}
}

func scalarJSON(a *fastjson.Arena, n *yaml.Node) *fastjson.Value {
	switch n.ShortTag() {
	case "!!null":
		return a.NewNull()
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			if b {
				return a.NewTrue()
			}
			return a.NewFalse()
		}
	case "!!int":
		if i, err := strconv.ParseInt(strings.ReplaceAll(n.Value, "_", ""), 0, 64); err == nil {
			return a.NewNumberString(strconv.FormatInt(i, 10))
		}
	case "!!float":
		var f float64
		if err := n.Decode(&f); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return a.NewNumberString(strconv.FormatFloat(f, 'f', -1, 64))
		}
	}
	return a.NewString(n.Value)
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// Expand rebuilds the nested structure from flattened pairs. Values that
// hold compact JSON arrays or objects are decoded; other values stay text.
func Expand(pairs []model.Pair) (map[string]any, error) {
	out := make(map[string]any)
	for _, p := range pairs {
		parts := strings.Split(p.Key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part]
			if !ok {
				m := make(map[string]any)
				node[part] = m
				node = m
				continue
			}
			m, ok := child.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("config: key %q conflicts with scalar %q", p.Key, part)
			}
			node = m
		}

		leaf := parts[len(parts)-1]
		if _, exists := node[leaf]; exists {
			return nil, fmt.Errorf("config: duplicate key %q", p.Key)
		}
		v, err := expandValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("config: key %q: %w", p.Key, err)
		}
		node[leaf] = v
	}
	return out, nil
}

func expandValue(s string) (any, error) {
	if !strings.HasPrefix(s, "[") && !strings.HasPrefix(s, "{") {
		return s, nil
	}
	v, err := fastjson.Parse(s)
	if err != nil {
		return nil, err
	}
	return jsonAny(v), nil
}

func jsonAny(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeObject:
		m := make(map[string]any)
		o, _ := v.Object()
		o.Visit(func(k []byte, item *fastjson.Value) {
			m[string(k)] = jsonAny(item)
		})
		return m
	case fastjson.TypeArray:
		items, _ := v.Array()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, jsonAny(item))
		}
		return out
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return string(b)
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}
