package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metacubex/bbolt"

	"substarter/backend/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", "subscriptions.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func proxy(name string) *domain.Map {
	m := domain.NewMap()
	m.Set("name", domain.String(name))
	m.Set("type", domain.String("ss"))
	m.Set("server", domain.String(name+".example.com"))
	m.Set("port", domain.Int(8388))
	return m
}

func group(name string, members ...string) *domain.Map {
	m := domain.NewMap()
	m.Set("name", domain.String(name))
	m.Set("type", domain.String("select"))
	m.Set("proxies", domain.Strings(members))
	return m
}

func sampleResult() domain.ParseResult {
	return domain.ParseResult{
		Proxies: []*domain.Map{proxy("hk"), proxy("jp")},
		Groups:  []*domain.Map{group("Auto", "hk", "jp")},
		Nodes: []domain.DisplayNode{
			{ID: "n1", Name: "hk", Type: "ss", Address: "hk.example.com", Port: 8388, SourceID: "p1", LatencyMS: domain.NoLatency},
		},
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.Save("p1", sampleResult()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	proxies, err := s.LoadProxies("p1")
	if err != nil {
		t.Fatalf("LoadProxies() error: %v", err)
	}
	if len(proxies) != 2 || proxies[1].Text("name") != "jp" || proxies[0].Int("port") != 8388 {
		t.Fatalf("unexpected proxies: %+v", proxies)
	}

	groups, err := s.LoadGroups("p1")
	if err != nil {
		t.Fatalf("LoadGroups() error: %v", err)
	}
	if len(groups) != 1 || !groups[0].Equal(group("Auto", "hk", "jp")) {
		t.Fatalf("unexpected groups")
	}

	nodes, err := s.LoadNodes("p1")
	if err != nil {
		t.Fatalf("LoadNodes() error: %v", err)
	}
	if len(nodes) != 1 || nodes[0] != sampleResult().Nodes[0] {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}
}

func TestStore_CorruptGroupsLeaveOtherArtifactsReadable(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.Save("p1", sampleResult()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return existingProfileBucket(tx, "p1").Put(keyGroups, []byte("[unclosed"))
	})
	if err != nil {
		t.Fatalf("overwrite groups: %v", err)
	}

	if _, err := s.LoadGroups("p1"); err == nil {
		t.Fatalf("expected groups decode error")
	}
	proxies, err := s.LoadProxies("p1")
	if err != nil || len(proxies) != 2 {
		t.Fatalf("LoadProxies() = %d, err=%v", len(proxies), err)
	}
	nodes, err := s.LoadNodes("p1")
	if err != nil || len(nodes) != 1 {
		t.Fatalf("LoadNodes() = %d, err=%v", len(nodes), err)
	}
}

func TestStore_MissingProfileIsEmpty(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	result, err := s.Load("nope")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !result.IsEmpty() {
		t.Fatalf("expected empty result")
	}
	raw, err := s.LoadRaw("nope")
	if err != nil || raw != "" {
		t.Fatalf("expected empty raw, got %q err=%v", raw, err)
	}
}

func TestStore_RawRemoveAndPrune(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.SaveRaw(id, "raw-"+id); err != nil {
			t.Fatalf("SaveRaw(%s) error: %v", id, err)
		}
	}
	if raw, _ := s.LoadRaw("b"); raw != "raw-b" {
		t.Fatalf("unexpected raw %q", raw)
	}

	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() of missing profile should not fail: %v", err)
	}

	removed, err := s.Prune([]string{"b"})
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned profile, got %d", removed)
	}
	ids, err := s.ProfileIDs()
	if err != nil {
		t.Fatalf("ProfileIDs() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("unexpected remaining ids: %v", ids)
	}
}

func TestStore_CatalogRoundTripIsStable(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	empty, err := s.LoadCatalog()
	if err != nil || len(empty.Proxies) != 0 {
		t.Fatalf("expected empty catalog, got %+v err=%v", empty, err)
	}

	r := sampleResult()
	cat := domain.Catalog{Proxies: r.Proxies, Groups: r.Groups, Nodes: r.Nodes}
	if err := s.SaveCatalog(cat); err != nil {
		t.Fatalf("SaveCatalog() error: %v", err)
	}
	first, err := s.CatalogBytes()
	if err != nil {
		t.Fatalf("CatalogBytes() error: %v", err)
	}

	loaded, err := s.LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog() error: %v", err)
	}
	if err := s.SaveCatalog(loaded); err != nil {
		t.Fatalf("SaveCatalog() error: %v", err)
	}
	second, _ := s.CatalogBytes()
	if !bytes.Equal(first, second) {
		t.Fatalf("catalog bytes changed after round trip")
	}
}

func TestOpen_RecreatesCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "subscriptions.db")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 8192), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()
	if err := s.SaveRaw("p", "ok"); err != nil {
		t.Fatalf("SaveRaw() after recreate error: %v", err)
	}
}

type stubDefaults struct{}

func (stubDefaults) ApplyDefaults(root *domain.Map, onlyMissing bool) {
	if onlyMissing {
		root.SetIfMissing("mixed-port", domain.Int(7890))
		root.SetIfMissing("mode", domain.String("rule"))
		return
	}
	root.Set("mixed-port", domain.Int(7890))
	root.Set("mode", domain.String("rule"))
}

func (stubDefaults) DefaultRules() []string { return []string{"MATCH,Auto"} }

func TestBuildEditableDocument(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.Save("p1", sampleResult()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	t.Run("empty base gets full skeleton", func(t *testing.T) {
		doc := s.BuildEditableDocument("p1", "", stubDefaults{})
		v, err := domain.DecodeYAML([]byte(doc))
		if err != nil {
			t.Fatalf("DecodeYAML() error: %v", err)
		}
		root := v.Map()
		if root.Int("mixed-port") != 7890 {
			t.Fatalf("expected default port in:\n%s", doc)
		}
		got, _ := root.Get("proxies")
		if len(got.List()) != 2 {
			t.Fatalf("expected cached proxies in:\n%s", doc)
		}
		rules, _ := root.Get("rules")
		if len(rules.List()) != 1 {
			t.Fatalf("expected default rules in:\n%s", doc)
		}
	})

	t.Run("user values are kept", func(t *testing.T) {
		base := "mode: global\nrules:\n  - MATCH,DIRECT\n"
		doc := s.BuildEditableDocument("p1", base, stubDefaults{})
		if !strings.Contains(doc, "mode: global") || strings.Contains(doc, "mode: rule") {
			t.Fatalf("user mode overwritten:\n%s", doc)
		}
		if !strings.Contains(doc, "MATCH,DIRECT") || strings.Contains(doc, "MATCH,Auto") {
			t.Fatalf("user rules overwritten:\n%s", doc)
		}
		if !strings.Contains(doc, "mixed-port: 7890") {
			t.Fatalf("missing field not filled:\n%s", doc)
		}
	})

	t.Run("document groups survive empty cache", func(t *testing.T) {
		base := "proxy-groups:\n  - name: Mine\n    type: select\n    proxies: [DIRECT]\n"
		doc := s.BuildEditableDocument("other", base, stubDefaults{})
		if !strings.Contains(doc, "name: Mine") {
			t.Fatalf("document groups replaced by empty cache:\n%s", doc)
		}
		if !strings.Contains(doc, "proxies: []") {
			t.Fatalf("expected empty proxies key to be added:\n%s", doc)
		}
	})
}
