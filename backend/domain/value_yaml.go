package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeYAML 解析 YAML 文本的第一个文档；空文档返回 Null
func DecodeYAML(data []byte) (Value, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return Value{}, err
	}
	if node.Kind == 0 {
		return Null(), nil
	}
	return newDecoder(&node).fromNode(&node, 0)
}

// EncodeYAML 以两空格缩进输出 YAML，保持映射键顺序
func EncodeYAML(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toNode(v)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalYAML 实现 yaml.Marshaler
func (v Value) MarshalYAML() (interface{}, error) {
	return toNode(v), nil
}

// UnmarshalYAML 实现 yaml.Unmarshaler
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	out, err := newDecoder(node).fromNode(node, 0)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func (m *Map) MarshalYAML() (interface{}, error) {
	return toNode(MapValue(m)), nil
}

func (m *Map) UnmarshalYAML(node *yaml.Node) error {
	v, err := newDecoder(node).fromNode(node, 0)
	if err != nil {
		return err
	}
	if v.kind != KindMap {
		return fmt.Errorf("expected mapping, got %s", v.kind)
	}
	*m = *v.m
	return nil
}

const maxNodeDepth = 256

// 别名展开后的节点数上限：源节点数的倍数，且不低于 minNodeBudget
const (
	aliasExpansionRatio = 100
	minNodeBudget       = 10000
)

// ErrExcessiveAliasing 别名展开后的节点数超出上限
var ErrExcessiveAliasing = errors.New("yaml: document contains excessive aliasing")

type decoder struct {
	budget int
}

func newDecoder(root *yaml.Node) *decoder {
	return &decoder{budget: max(countNodes(root)*aliasExpansionRatio, minNodeBudget)}
}

// countNodes 统计源文档节点数，不跟随别名
func countNodes(root *yaml.Node) int {
	if root == nil {
		return 0
	}
	count := 0
	stack := []*yaml.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, n.Content...)
	}
	return count
}

func (d *decoder) fromNode(n *yaml.Node, depth int) (Value, error) {
	if depth > maxNodeDepth {
		return Value{}, fmt.Errorf("yaml nesting exceeds %d levels", maxNodeDepth)
	}
	d.budget--
	if d.budget < 0 {
		return Value{}, ErrExcessiveAliasing
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return d.fromNode(n.Content[0], depth+1)
	case yaml.AliasNode:
		if n.Alias == nil {
			return Null(), nil
		}
		return d.fromNode(n.Alias, depth+1)
	case yaml.ScalarNode:
		return scalarFromNode(n), nil
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, child := range n.Content {
			item, err := d.fromNode(child, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return List(items...), nil
	case yaml.MappingNode:
		m := NewMap()
		var merges []*Map
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode, valNode := n.Content[i], n.Content[i+1]
			if keyNode.ShortTag() == "!!merge" {
				merged, err := d.mergeSources(valNode, depth+1)
				if err != nil {
					return Value{}, err
				}
				merges = append(merges, merged...)
				continue
			}
			if keyNode.Kind != yaml.ScalarNode {
				continue
			}
			val, err := d.fromNode(valNode, depth+1)
			if err != nil {
				return Value{}, err
			}
			m.Set(keyNode.Value, val)
		}
		// 合并键 << 只补充本层未显式给出的字段
		for _, src := range merges {
			src.Range(func(key string, v Value) bool {
				m.SetIfMissing(key, v)
				return true
			})
		}
		return MapValue(m), nil
	}
	return Null(), nil
}

func (d *decoder) mergeSources(n *yaml.Node, depth int) ([]*Map, error) {
	v, err := d.fromNode(n, depth)
	if err != nil {
		return nil, err
	}
	switch v.kind {
	case KindMap:
		return []*Map{v.m}, nil
	case KindList:
		var out []*Map
		for _, item := range v.list {
			if item.kind == KindMap {
				out = append(out, item.m)
			}
		}
		return out, nil
	}
	return nil, nil
}

func scalarFromNode(n *yaml.Node) Value {
	switch n.ShortTag() {
	case "!!null":
		return Null()
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			return Bool(b)
		}
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return Int(i)
		}
		var f float64
		if err := n.Decode(&f); err == nil {
			return Float(f)
		}
	case "!!float":
		var f float64
		if err := n.Decode(&f); err == nil {
			return Float(f)
		}
	}
	return String(n.Value)
}

func toNode(v Value) *yaml.Node {
	switch v.kind {
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.i, 10)}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatYAMLFloat(v.f)}
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s}
	case KindList:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.list {
			n.Content = append(n.Content, toNode(item))
		}
		return n
	case KindMap:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		v.m.Range(func(key string, item Value) bool {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
				toNode(item),
			)
			return true
		})
		return n
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

func formatYAMLFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// MarshalJSON 按插入顺序输出 JSON 对象
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Map) MarshalJSON() ([]byte, error) {
	return MapValue(m).MarshalJSON()
}

func writeJSON(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		first := true
		var err error
		v.m.Range(func(key string, item Value) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			var kb []byte
			if kb, err = json.Marshal(key); err != nil {
				return false
			}
			buf.Write(kb)
			buf.WriteByte(':')
			err = writeJSON(buf, item)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	}
	return nil
}
