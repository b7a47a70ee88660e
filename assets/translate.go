package assets

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/amlg-lang/amlg/vm"
)

// Translators between node trees and interchange formats. Each format
// maps onto the value model the obvious way: objects/maps become assoc
// nodes, arrays become lists, scalars become number/string/boolean/null
// nodes. CSV is a list of row lists.

// ---------------------------------------------------------------------------
// node tree <-> Go values
// ---------------------------------------------------------------------------

// nodeFromValue builds a tree from decoded interchange data.
func nodeFromValue(v any, m *vm.NodeManager) *vm.EvaluableNode {
	pool := m.StringPool()
	switch value := v.(type) {
	case nil:
		return m.AllocNode(vm.OpNull)
	case bool:
		if value {
			return m.AllocNode(vm.OpTrue)
		}
		return m.AllocNode(vm.OpFalse)
	case float64:
		return m.AllocNumberNode(value)
	case int:
		return m.AllocNumberNode(float64(value))
	case int64:
		return m.AllocNumberNode(float64(value))
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return m.AllocStringNode(value.String())
		}
		return m.AllocNumberNode(f)
	case string:
		return m.AllocStringNode(value)
	case []any:
		node := m.AllocNode(vm.OpList)
		for _, item := range value {
			node.AppendOrderedChildNode(nodeFromValue(item, m))
		}
		return node
	case map[string]any:
		node := m.AllocNode(vm.OpAssoc)
		for k, item := range value {
			node.SetMappedChildNode(pool, pool.CreateStringReference(k), nodeFromValue(item, m))
		}
		return node
	default:
		return m.AllocStringNode(fmt.Sprint(value))
	}
}

// valueFromNode converts a tree to interchange data. sortKeys has no
// effect here (maps are unordered); encoders that need determinism sort
// at encode time.
func valueFromNode(n *vm.EvaluableNode, pool *vm.StringInternPool) any {
	if vm.IsNilNode(n) {
		return nil
	}
	switch n.Type() {
	case vm.OpTrue:
		return true
	case vm.OpFalse:
		return false
	case vm.OpNumber:
		f := n.NumberValue()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case vm.OpString, vm.OpSymbol:
		return pool.GetStringFromID(n.StringIDValue())
	case vm.OpAssoc:
		out := make(map[string]any, len(n.MappedChildNodes()))
		for sid, c := range n.MappedChildNodes() {
			out[pool.GetStringFromID(sid)] = valueFromNode(c, pool)
		}
		return out
	default:
		children := n.OrderedChildNodes()
		out := make([]any, len(children))
		for i, c := range children {
			out[i] = valueFromNode(c, pool)
		}
		return out
	}
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

func jsonToTree(data []byte, m *vm.NodeManager) (vm.NodeReference, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return vm.NullReference(), fmt.Errorf("parsing JSON: %w", err)
	}
	return vm.NewNodeReference(nodeFromValue(decoded, m), true), nil
}

func treeToJSON(n *vm.EvaluableNode, pool *vm.StringInternPool, sortKeys bool) ([]byte, error) {
	// encoding/json already emits object keys sorted, so sortKeys is
	// inherently satisfied
	return json.MarshalIndent(valueFromNode(n, pool), "", "  ")
}

// ---------------------------------------------------------------------------
// YAML
// ---------------------------------------------------------------------------

func yamlToTree(data []byte, m *vm.NodeManager) (vm.NodeReference, error) {
	var decoded any
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return vm.NullReference(), fmt.Errorf("parsing YAML: %w", err)
	}
	return vm.NewNodeReference(nodeFromValue(normalizeYAML(decoded), m), true), nil
}

// normalizeYAML rewrites yaml.v3's map[any]any-style decoding (and
// integer scalars) into the map[string]any/float64 shapes the tree
// builder consumes.
func normalizeYAML(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(value)
	case int64:
		return float64(value)
	default:
		return value
	}
}

func treeToYAML(n *vm.EvaluableNode, pool *vm.StringInternPool) ([]byte, error) {
	return yaml.Marshal(valueFromNode(n, pool))
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

func csvToTree(data []byte, m *vm.NodeManager) (vm.NodeReference, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return vm.NullReference(), fmt.Errorf("parsing CSV: %w", err)
	}
	rows := m.AllocNode(vm.OpList)
	for _, record := range records {
		row := m.AllocNode(vm.OpList)
		for _, field := range record {
			row.AppendOrderedChildNode(csvFieldNode(field, m))
		}
		rows.AppendOrderedChildNode(row)
	}
	return vm.NewNodeReference(rows, true), nil
}

// csvFieldNode infers numbers from CSV text fields the way spreadsheet
// data expects; everything else stays a string.
func csvFieldNode(field string, m *vm.NodeManager) *vm.EvaluableNode {
	if field == "" {
		return m.AllocStringNode("")
	}
	if f, err := strconv.ParseFloat(field, 64); err == nil {
		return m.AllocNumberNode(f)
	}
	return m.AllocStringNode(field)
}

func treeToCSV(n *vm.EvaluableNode, pool *vm.StringInternPool) ([]byte, error) {
	var sb strings.Builder
	writer := csv.NewWriter(&sb)
	for _, row := range n.OrderedChildNodes() {
		var record []string
		if row != nil && row.Type().UsesOrderedData() && !row.IsImmediate() {
			for _, field := range row.OrderedChildNodes() {
				s, _ := vm.ToStringValue(pool, field)
				record = append(record, s)
			}
		} else {
			s, _ := vm.ToStringValue(pool, row)
			record = []string{s}
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return []byte(sb.String()), writer.Error()
}
