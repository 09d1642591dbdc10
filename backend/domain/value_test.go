package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestMapLookupIgnoresCaseButKeepsOriginalKey(t *testing.T) {
	t.Parallel()

	m := NewMap()
	m.Set("Name", String("a"))
	m.Set("type", String("ss"))
	m.Set("NAME", String("b"))

	if m.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", m.Len())
	}
	if got := m.Text("name"); got != "b" {
		t.Fatalf("expected overwritten value b, got %q", got)
	}
	keys := m.Keys()
	if keys[0] != "Name" || keys[1] != "type" {
		t.Fatalf("unexpected key order/case: %v", keys)
	}

	if !m.Delete("TYPE") || m.Has("type") {
		t.Fatalf("expected case-insensitive delete")
	}
}

func TestDecodeYAMLPreservesOrderAndScalarTypes(t *testing.T) {
	t.Parallel()

	src := `
zeta: 1
alpha: "2"
beta: true
gamma: 1.5
delta: ~
list:
  - x
  - 3
`
	v, err := DecodeYAML([]byte(src))
	if err != nil {
		t.Fatalf("DecodeYAML() error: %v", err)
	}
	m := v.Map()
	if m == nil {
		t.Fatalf("expected mapping, got %s", v.Kind())
	}
	if got := strings.Join(m.Keys(), ","); got != "zeta,alpha,beta,gamma,delta,list" {
		t.Fatalf("unexpected key order: %s", got)
	}

	cases := map[string]ValueKind{
		"zeta":  KindInt,
		"alpha": KindString,
		"beta":  KindBool,
		"gamma": KindFloat,
		"delta": KindNull,
		"list":  KindList,
	}
	for key, want := range cases {
		got, _ := m.Get(key)
		if got.Kind() != want {
			t.Fatalf("%s: expected %s, got %s", key, want, got.Kind())
		}
	}

	if n, ok := mustGet(t, m, "alpha").ToInt(); !ok || n != 2 {
		t.Fatalf("expected quoted number to coerce to 2, got %d ok=%v", n, ok)
	}
}

func TestEncodeYAMLRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewMap()
	m.Set("port", Int(7890))
	m.Set("ratio", Float(2))
	m.Set("secret", String("123"))
	m.Set("enable", Bool(true))
	m.Set("rules", Strings([]string{"MATCH,Auto"}))

	out, err := EncodeYAML(MapValue(m))
	if err != nil {
		t.Fatalf("EncodeYAML() error: %v", err)
	}
	text := string(out)
	if !strings.HasPrefix(text, "port: 7890\n") {
		t.Fatalf("expected port first, got:\n%s", text)
	}
	if !strings.Contains(text, `secret: "123"`) {
		t.Fatalf("expected numeric-looking string to be quoted, got:\n%s", text)
	}
	if !strings.Contains(text, "ratio: 2.0") {
		t.Fatalf("expected float to keep fractional form, got:\n%s", text)
	}

	back, err := DecodeYAML(out)
	if err != nil {
		t.Fatalf("DecodeYAML() error: %v", err)
	}
	if !back.Equal(MapValue(m)) {
		t.Fatalf("round trip mismatch:\n%s", text)
	}
}

func TestDecodeYAMLMergeKeys(t *testing.T) {
	t.Parallel()

	src := `
base: &base
  type: ss
  udp: true
node:
  <<: *base
  name: hk
  udp: false
`
	v, err := DecodeYAML([]byte(src))
	if err != nil {
		t.Fatalf("DecodeYAML() error: %v", err)
	}
	node := mustGet(t, v.Map(), "node").Map()
	if node.Text("type") != "ss" || node.Text("name") != "hk" {
		t.Fatalf("merge not applied: %v", node.Keys())
	}
	if b, _ := mustGet(t, node, "udp").Bool(); b {
		t.Fatalf("explicit field must win over merged one")
	}
}

func TestValueMarshalJSONKeepsOrder(t *testing.T) {
	t.Parallel()

	m := NewMap()
	m.Set("b", Int(1))
	m.Set("a", Strings([]string{"x"}))
	m.Set("c", Null())

	b, err := MapValue(m).MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error: %v", err)
	}
	if got := string(b); got != `{"b":1,"a":["x"],"c":null}` {
		t.Fatalf("unexpected json: %s", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	inner := NewMap()
	inner.Set("Host", String("a"))
	outer := NewMap()
	outer.Set("headers", MapValue(inner))

	cp := outer.Clone()
	mustGet(t, cp, "headers").Map().Set("Host", String("b"))

	if inner.Text("host") != "a" {
		t.Fatalf("clone shares nested map")
	}
}

func TestProfileDueForUpdate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-7 * time.Hour)

	p := NewProfile()
	if !p.DueForUpdate(now) {
		t.Fatalf("never-updated profile should be due")
	}
	p.LastUpdated = &recent
	if p.DueForUpdate(now) {
		t.Fatalf("recently updated profile should not be due")
	}
	p.LastUpdated = &old
	if !p.DueForUpdate(now) {
		t.Fatalf("stale profile should be due")
	}
	p.AutoUpdate = false
	if p.DueForUpdate(now) {
		t.Fatalf("auto update disabled")
	}
}

func TestClampUpdateInterval(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want int }{
		{0, DefaultUpdateIntervalMinutes},
		{1, MinUpdateIntervalMinutes},
		{60, 60},
		{20000, MaxUpdateIntervalMinutes},
	}
	for _, tc := range cases {
		if got := ClampUpdateInterval(tc.in); got != tc.want {
			t.Fatalf("ClampUpdateInterval(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func mustGet(t *testing.T, m *Map, key string) Value {
	t.Helper()
	v, ok := m.Get(key)
	if !ok {
		t.Fatalf("missing key %q", key)
	}
	return v
}

func TestDisplayNodeTypeDisplay(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"ss":        "Shadowsocks",
		"VMESS":     "VMess",
		"hysteria2": "Hysteria2",
		"snell":     "snell",
	}
	for typ, want := range cases {
		if got := (DisplayNode{Type: typ}).TypeDisplay(); got != want {
			t.Fatalf("TypeDisplay(%q) = %q, want %q", typ, got, want)
		}
	}
}

func TestDisplayNodeJSONIncludesTypeDisplay(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(DisplayNode{ID: "n1", Name: "hk", Type: "trojan", Port: 443, LatencyMS: NoLatency})
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	text := string(b)
	for _, want := range []string{`"typeDisplay":"Trojan"`, `"type":"trojan"`, `"latencyMs":-1`, `"active":false`} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %s in %s", want, text)
		}
	}
}

// nestedAliases 每层锚点引用上一层十次，展开后节点数为 10^levels 量级
func nestedAliases(levels int) string {
	var b strings.Builder
	b.WriteString("l0: &l0 [x, x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i < levels; i++ {
		refs := strings.TrimSuffix(strings.Repeat(fmt.Sprintf("*l%d, ", i-1), 10), ", ")
		fmt.Fprintf(&b, "l%d: &l%d [%s]\n", i, i, refs)
	}
	b.WriteString("proxies: []\n")
	return b.String()
}

func TestDecodeYAMLRejectsExcessiveAliasing(t *testing.T) {
	t.Parallel()

	_, err := DecodeYAML([]byte(nestedAliases(7)))
	if !errors.Is(err, ErrExcessiveAliasing) {
		t.Fatalf("expected ErrExcessiveAliasing, got %v", err)
	}

	var v Value
	if err := v.UnmarshalYAML(mustParseNode(t, nestedAliases(9))); !errors.Is(err, ErrExcessiveAliasing) {
		t.Fatalf("UnmarshalYAML: expected ErrExcessiveAliasing, got %v", err)
	}
}

func TestDecodeYAMLExpandsModestAliases(t *testing.T) {
	t.Parallel()

	v, err := DecodeYAML([]byte(nestedAliases(3)))
	if err != nil {
		t.Fatalf("DecodeYAML() error: %v", err)
	}
	top := mustGet(t, v.Map(), "l2").List()
	if len(top) != 10 {
		t.Fatalf("expected 10 items, got %d", len(top))
	}
	if got := top[9].List()[9].List()[9].Text(); got != "x" {
		t.Fatalf("unexpected leaf %q", got)
	}
}

func mustParseNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("yaml.Unmarshal() error: %v", err)
	}
	return &node
}
