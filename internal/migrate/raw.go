package migrate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/duplex/internal/ir"
)

// DecodeRaw parses possibly-malformed document JSON into an ir.Document
// without enforcing invariants. Wrong-shaped fields are coerced to their
// zero form (a non-array nodes becomes empty, a non-object props is
// dropped) instead of failing, so that the baseline migration can repair
// the result. Only syntactically broken JSON or a non-object root is an
// error.
func DecodeRaw(data []byte) (ir.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return ir.Document{}, fmt.Errorf("decode raw document: %w", err)
	}

	root, ok := raw.(map[string]any)
	if !ok {
		return ir.Document{}, fmt.Errorf("decode raw document: root is %T, expected object", raw)
	}

	var doc ir.Document
	doc.SchemaVersion = rawInt(root["schemaVersion"])
	doc.Metadata = rawMetadata(root["metadata"])

	if nodes, ok := root["nodes"].([]any); ok {
		doc.Nodes = make([]ir.Node, 0, len(nodes))
		for _, n := range nodes {
			if obj, ok := n.(map[string]any); ok {
				doc.Nodes = append(doc.Nodes, rawNode(obj))
			}
		}
	} else {
		// Coerce non-array nodes to empty
		doc.Nodes = []ir.Node{}
	}

	return doc, nil
}

func rawMetadata(v any) ir.DocumentMeta {
	obj, ok := v.(map[string]any)
	if !ok {
		return ir.DocumentMeta{}
	}
	meta := ir.DocumentMeta{
		SourceKind: rawString(obj["sourceKind"]),
		SourceFile: rawString(obj["sourceFile"]),
	}
	if ts := rawString(obj["generatedAt"]); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			meta.GeneratedAt = parsed
		}
	}
	return meta
}

func rawNode(obj map[string]any) ir.Node {
	n := ir.Node{
		ID:   rawString(obj["id"]),
		Type: rawString(obj["type"]),
	}

	if props := rawObject(obj["props"]); props != nil {
		n.Props = props
	}
	if state := rawObject(obj["state"]); state != nil && state.Len() > 0 {
		n.State = state
	}

	if children, ok := obj["children"].([]any); ok {
		n.Children = make([]ir.Node, 0, len(children))
		for _, c := range children {
			if childObj, ok := c.(map[string]any); ok {
				n.Children = append(n.Children, rawNode(childObj))
			}
		}
	}

	if events, ok := obj["events"].([]any); ok {
		for _, e := range events {
			if evObj, ok := e.(map[string]any); ok {
				n.Events = append(n.Events, ir.EventBinding{
					Name:    rawString(evObj["name"]),
					Handler: rawString(evObj["handler"]),
				})
			}
		}
	}

	if hooks, ok := obj["lifecycleHooks"].([]any); ok {
		for _, h := range hooks {
			if hkObj, ok := h.(map[string]any); ok {
				n.Hooks = append(n.Hooks, ir.LifecycleHook{
					Phase: rawString(hkObj["phase"]),
					Body:  rawString(hkObj["body"]),
				})
			}
		}
	}

	if meta, ok := obj["metadata"].(map[string]any); ok {
		n.Meta = ir.NodeMeta{
			Line: rawInt(meta["lineNumber"]),
			Doc:  rawString(meta["doc"]),
		}
	}

	return n
}

// rawObject converts a decoded JSON object into an ordered IRObject.
// Decoding through the map loses authoring order, which is acceptable here:
// raw repair is a salvage path, not the primary parse.
func rawObject(v any) *ir.IRObject {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	obj := ir.NewIRObject()
	for _, k := range sortedMapKeys(m) {
		val, err := rawValue(m[k])
		if err != nil {
			continue // drop unrepresentable values rather than fail salvage
		}
		obj.Set(k, val)
	}
	return obj
}

func rawValue(v any) (ir.IRValue, error) {
	switch val := v.(type) {
	case nil:
		return ir.IRNull{}, nil
	case bool:
		return ir.IRBool(val), nil
	case string:
		return ir.IRString(val), nil
	case json.Number:
		s := string(val)
		if !strings.ContainsAny(s, ".eE") {
			if i, err := val.Int64(); err == nil {
				return ir.IRInt(i), nil
			}
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", s)
		}
		return ir.IRFloat(f), nil
	case []any:
		arr := make(ir.IRArray, 0, len(val))
		for _, elem := range val {
			irElem, err := rawValue(elem)
			if err != nil {
				return nil, err
			}
			arr = append(arr, irElem)
		}
		return arr, nil
	case map[string]any:
		obj := rawObject(val)
		if obj == nil {
			obj = ir.NewIRObject()
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported raw value type: %T", v)
	}
}

func rawString(v any) string {
	s, _ := v.(string)
	return s
}

func rawInt(v any) int {
	n, ok := v.(json.Number)
	if !ok {
		return 0
	}
	i, err := n.Int64()
	if err != nil {
		return 0
	}
	return int(i)
}

// sortedMapKeys gives the salvage path a deterministic order. Plain string
// sort is fine here since this is not the canonical path.
func sortedMapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
