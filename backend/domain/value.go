package domain

import (
	"math"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ValueKind 通用值的类型标签
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value 配置文档中的任意值（标量、列表或有序映射）。
//
// 代理记录、代理组与整份 Clash 文档都以 Value/Map 表示，
// 这样在解析、缓存、合成之间流转时不会丢失未知字段与键顺序。
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    *Map
}

func Null() Value           { return Value{} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Strings 将字符串切片包装为列表值
func Strings(items []string) Value {
	out := make([]Value, 0, len(items))
	for _, item := range items {
		out = append(out, String(item))
	}
	return List(out...)
}

// Maps 将映射切片包装为列表值
func Maps(items []*Map) Value {
	out := make([]Value, 0, len(items))
	for _, item := range items {
		out = append(out, MapValue(item))
	}
	return List(out...)
}

// MapValue 包装映射；nil 视为空映射
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

// Bool 返回布尔值；非布尔类型返回 ok=false
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// List 返回列表元素；非列表返回 nil
func (v Value) List() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Map 返回映射；非映射返回 nil
func (v Value) Map() *Map {
	if v.kind != KindMap {
		return nil
	}
	return v.m
}

// Text 标量的字符串形式，列表和映射返回空串
func (v Value) Text() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		return ""
	}
}

// ToInt 宽松的整数转换：整数、整值浮点与数字字符串均可
func (v Value) ToInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) {
			return int64(v.f), true
		}
	case KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// Clone 深拷贝
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		out := make([]Value, len(v.list))
		for i, item := range v.list {
			out[i] = item.Clone()
		}
		return Value{kind: KindList, list: out}
	case KindMap:
		return Value{kind: KindMap, m: v.m.Clone()}
	default:
		return v
	}
}

// Equal 结构相等（映射比较时忽略键大小写，但要求顺序一致）
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(other.m)
	}
	return false
}

// Map 有序映射：写入保留原始键名，查找不区分大小写。
type Map struct {
	om    *orderedmap.OrderedMap[string, Value]
	index map[string]string
}

// NewMap 创建空映射
func NewMap() *Map {
	return &Map{
		om:    orderedmap.New[string, Value](),
		index: make(map[string]string),
	}
}

func foldKey(key string) string { return strings.ToLower(key) }

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return m.om.Len()
}

// Get 按键查找（不区分大小写）
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	stored, ok := m.index[foldKey(key)]
	if !ok {
		return Value{}, false
	}
	return m.om.Get(stored)
}

// Has 判断键是否存在（不区分大小写）
func (m *Map) Has(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.index[foldKey(key)]
	return ok
}

// Set 写入键值。若已存在大小写不同的同名键，则原位替换值并保留原键名。
func (m *Map) Set(key string, v Value) {
	folded := foldKey(key)
	if stored, ok := m.index[folded]; ok {
		m.om.Set(stored, v)
		return
	}
	m.index[folded] = key
	m.om.Set(key, v)
}

// SetIfMissing 仅在键不存在时写入，返回是否写入
func (m *Map) SetIfMissing(key string, v Value) bool {
	if m.Has(key) {
		return false
	}
	m.Set(key, v)
	return true
}

// Delete 删除键（不区分大小写）
func (m *Map) Delete(key string) bool {
	if m == nil {
		return false
	}
	folded := foldKey(key)
	stored, ok := m.index[folded]
	if !ok {
		return false
	}
	delete(m.index, folded)
	m.om.Delete(stored)
	return true
}

// Keys 按插入顺序返回原始键名
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, m.om.Len())
	for p := m.om.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Range 按插入顺序遍历，fn 返回 false 时停止
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for p := m.om.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Text 读取标量字段的字符串形式，缺失返回空串
func (m *Map) Text(key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	return v.Text()
}

// Int 读取整数字段，缺失或无法转换时返回 0
func (m *Map) Int(key string) int64 {
	v, ok := m.Get(key)
	if !ok {
		return 0
	}
	n, _ := v.ToInt()
	return n
}

// Clone 深拷贝
func (m *Map) Clone() *Map {
	out := NewMap()
	m.Range(func(key string, v Value) bool {
		out.Set(key, v.Clone())
		return true
	})
	return out
}

// Equal 顺序敏感、键大小写不敏感的结构比较
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	a, b := m.Keys(), other.Keys()
	for i := range a {
		if foldKey(a[i]) != foldKey(b[i]) {
			return false
		}
		av, _ := m.Get(a[i])
		bv, _ := other.Get(b[i])
		if !av.Equal(bv) {
			return false
		}
	}
	return true
}

// CloneMaps 深拷贝映射切片
func CloneMaps(items []*Map) []*Map {
	if items == nil {
		return nil
	}
	out := make([]*Map, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
