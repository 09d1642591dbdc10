package config

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"substarter/backend/domain"
	"substarter/backend/repository"
	"substarter/backend/repository/memory"
	"substarter/backend/service/cache"
	"substarter/backend/service/catalog"
	"substarter/backend/service/fetch"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func failingClient(msg string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New(msg)
	})}
}

type fixture struct {
	svc   *Service
	repo  *memory.ProfileRepo
	cache *cache.Store
	agg   *catalog.Aggregator
}

func newFixture(t *testing.T, direct, proxied *http.Client) fixture {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "subscriptions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo := memory.NewProfileRepo(memory.NewStore(nil))
	agg := catalog.NewAggregator(store)
	return fixture{
		svc:   NewService(repo, fetch.New(direct, proxied), store, agg),
		repo:  repo,
		cache: store,
		agg:   agg,
	}
}

func createProfile(t *testing.T, f fixture, name, url string) domain.Profile {
	t.Helper()
	p := domain.NewProfile()
	p.Name = name
	p.URL = url
	created, err := f.svc.Create(context.Background(), p)
	require.NoError(t, err)
	return created
}

const twoTrojanLinks = "trojan://pw@a.example.com:443#A1\ntrojan://pw@b.example.com:443#B1\n"

func TestRefresh_StoresNodesAndUsage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Subscription-Userinfo", "upload=100; download=200; total=1000; expire=1700000000")
		_, _ = w.Write([]byte("\ufeff" + twoTrojanLinks))
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client(), failingClient("proxy unused"))
	p := createProfile(t, f, "demo", srv.URL)

	updated, err := f.svc.Refresh(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.NodeCount)
	assert.Empty(t, updated.LastError)
	require.NotNil(t, updated.LastUpdated)
	assert.NotEmpty(t, updated.Checksum)
	require.NotNil(t, updated.UsageUsedBytes)
	assert.EqualValues(t, 300, *updated.UsageUsedBytes)
	require.NotNil(t, updated.UsageTotalBytes)
	assert.EqualValues(t, 1000, *updated.UsageTotalBytes)
	require.NotNil(t, updated.ExpireAt)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *updated.ExpireAt)

	raw, err := f.svc.Raw(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, twoTrojanLinks, raw)

	nodes, err := f.cache.LoadNodes(p.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "A1", nodes[0].Name)
	assert.False(t, f.svc.Refreshing(p.ID))
}

func TestRefresh_BothEgressFailKeepsPreviousResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t, failingClient("direct refused"), failingClient("proxy refused"))
	p := createProfile(t, f, "demo", "http://sub.example.invalid/x")

	_, err := f.repo.UpdateRefreshStatus(context.Background(), p.ID, domain.RefreshStatus{NodeCount: 3})
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), p.ID)
	require.Error(t, err)

	var profileErr *ProfileError
	require.ErrorAs(t, err, &profileErr)
	assert.Equal(t, p.ID, profileErr.ProfileID)
	var downloadErr *fetch.DownloadError
	assert.ErrorAs(t, err, &downloadErr)

	got, err := f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.NodeCount)
	assert.Contains(t, got.LastError, "direct:")
	assert.Contains(t, got.LastError, "system proxy:")
}

func TestRefresh_FallsBackToProxyProviders(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sub", func(w http.ResponseWriter, r *http.Request) {
		doc := "proxy-providers:\n" +
			"  good:\n    type: http\n    url: " + srv.URL + "/good\n" +
			"  broken:\n    type: http\n    url: " + srv.URL + "/broken\n" +
			"  local:\n    type: file\n    path: ./local.yaml\n"
		_, _ = w.Write([]byte(doc))
	})
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("trojan://pw@c.example.com:443\n"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	f := newFixture(t, srv.Client(), failingClient("proxy unused"))
	p := createProfile(t, f, "demo", srv.URL+"/sub")

	updated, err := f.svc.Refresh(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.NodeCount)

	proxies, err := f.cache.LoadProxies(p.ID)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	assert.Equal(t, "c.example.com", proxies[0].Text("name"))
	assert.Equal(t, p.ID, updated.ID)
}

func TestApplyEditedContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, failingClient("unused"), failingClient("unused"))
	p := createProfile(t, f, "manual", "")

	updated, err := f.svc.ApplyEditedContent(context.Background(), p.ID, "  "+twoTrojanLinks+"  ")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.NodeCount)

	raw, err := f.svc.Raw(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(twoTrojanLinks), raw)
}

func TestDelete_RemovesCacheAndCatalogEntries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, failingClient("unused"), failingClient("unused"))
	ctx := context.Background()
	keep := createProfile(t, f, "keep", "")
	drop := createProfile(t, f, "drop", "")
	_, err := f.svc.ApplyEditedContent(ctx, keep.ID, "trojan://pw@k.example.com:443#K")
	require.NoError(t, err)
	_, err = f.svc.ApplyEditedContent(ctx, drop.ID, "trojan://pw@d.example.com:443#D")
	require.NoError(t, err)

	cat, err := f.svc.RebuildCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, cat.Nodes, 2)

	require.NoError(t, f.svc.Delete(ctx, drop.ID))

	ids, err := f.cache.ProfileIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{keep.ID}, ids)

	cat, err = f.agg.Load()
	require.NoError(t, err)
	require.Len(t, cat.Nodes, 1)
	assert.Equal(t, "K", cat.Nodes[0].Name)

	_, err = f.svc.Raw(ctx, drop.ID)
	assert.ErrorIs(t, err, repository.ErrProfileNotFound)
}

func TestDueProfilesAndSyncDue(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(twoTrojanLinks))
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client(), failingClient("proxy unused"))
	ctx := context.Background()

	due := createProfile(t, f, "due", srv.URL)
	fresh := createProfile(t, f, "fresh", srv.URL)
	_, err := f.repo.UpdateRefreshStatus(ctx, fresh.ID, domain.RefreshStatus{NodeCount: 1, UpdatedAt: time.Now()})
	require.NoError(t, err)
	createProfile(t, f, "no-url", "")

	list, err := f.svc.DueProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)

	assert.True(t, f.svc.SyncDue(ctx))
	assert.EqualValues(t, 1, hits.Load())

	// 刚刷新过，不再到期
	assert.False(t, f.svc.SyncDue(ctx))
	assert.EqualValues(t, 1, hits.Load())
}

func TestRefreshAll_CountsFailuresAndPrunes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(twoTrojanLinks))
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client(), srv.Client())
	ctx := context.Background()
	createProfile(t, f, "ok", srv.URL+"/ok")
	createProfile(t, f, "bad", srv.URL+"/bad")
	require.NoError(t, f.cache.SaveRaw("orphan", "x"))

	failed, err := f.svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	ids, err := f.cache.ProfileIDs()
	require.NoError(t, err)
	assert.NotContains(t, ids, "orphan")

	cat, err := f.agg.Load()
	require.NoError(t, err)
	assert.Len(t, cat.Nodes, 2)
}

func TestEditableDocument_UnknownProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, failingClient("unused"), failingClient("unused"))
	_, err := f.svc.EditableDocument(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, repository.ErrProfileNotFound)
}
