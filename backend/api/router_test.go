package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"substarter/backend/domain"
	"substarter/backend/repository"
	"substarter/backend/repository/events"
	"substarter/backend/repository/memory"
	"substarter/backend/service"
	"substarter/backend/service/cache"
	"substarter/backend/service/catalog"
	configsvc "substarter/backend/service/config"
	"substarter/backend/service/core"
	"substarter/backend/service/fetch"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	root := t.TempDir()
	store, err := cache.Open(filepath.Join(root, "cache", "subscriptions.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	memStore := memory.NewStore(events.NewBus())
	repos := &repository.RepositoriesImpl{
		Store:        memStore,
		ProfileRepo:  memory.NewProfileRepo(memStore),
		SettingsRepo: memory.NewSettingsRepo(memStore),
	}
	agg := catalog.NewAggregator(store)
	profileSvc := configsvc.NewService(repos.Profile(), fetch.NewDefault(), store, agg)
	coreClient := core.NewClient(core.StaticEndpoint("", ""), nil)
	return NewRouter(service.NewFacade(profileSvc, agg, coreClient, repos, root))
}

func do(t *testing.T, h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v: %s", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestRouter(t), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProfileLifecycle(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/profiles", "application/json", `{"name":"demo","autoUpdateIntervalMinutes":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created domain.Profile
	decode(t, rec, &created)
	if created.ID == "" || !created.Enabled || created.AutoUpdateIntervalMinutes != domain.MinUpdateIntervalMinutes {
		t.Fatalf("unexpected created profile: %+v", created)
	}

	rec = do(t, router, http.MethodPut, "/profiles/"+created.ID+"/document", "text/plain",
		"trojan://pw@a.example.com:443#A1\nss://YWVzLTEyOC1nY206dGVzdA@192.168.1.1:8888#S1\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("put document: %d %s", rec.Code, rec.Body.String())
	}
	var edited domain.Profile
	decode(t, rec, &edited)
	if edited.NodeCount != 2 {
		t.Fatalf("expected 2 nodes, got %d", edited.NodeCount)
	}

	rec = do(t, router, http.MethodGet, "/catalog", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog: %d %s", rec.Code, rec.Body.String())
	}
	for _, want := range []string{`"typeDisplay":"Trojan"`, `"typeDisplay":"Shadowsocks"`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("expected %s in catalog: %s", want, rec.Body.String())
		}
	}

	rec = do(t, router, http.MethodGet, "/config", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "MATCH,Auto") {
		t.Fatalf("config preview: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPut, "/profiles/"+created.ID, "application/json", `{"name":"renamed","enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	var updated domain.Profile
	decode(t, rec, &updated)
	if updated.Name != "renamed" || updated.Enabled || updated.NodeCount != 2 {
		t.Fatalf("unexpected updated profile: %+v", updated)
	}

	rec = do(t, router, http.MethodDelete, "/profiles/"+created.ID, "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodGet, "/profiles/"+created.ID, "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestPutDocumentJSONBody(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/profiles", "application/json", `{"name":"demo"}`)
	var created domain.Profile
	decode(t, rec, &created)

	rec = do(t, router, http.MethodPut, "/profiles/"+created.ID+"/document", "application/json", `{"other":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing content, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPut, "/profiles/"+created.ID+"/document", "application/json",
		`{"content":"trojan://pw@a.example.com:443#A1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put document: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/profiles/"+created.ID+"/raw", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "trojan://pw@a.example.com:443#A1" {
		t.Fatalf("raw: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRefreshFailureMapsToBadGateway(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/profiles", "application/json", `{"name":"demo","url":"`+upstream.URL+`"}`)
	var created domain.Profile
	decode(t, rec, &created)

	rec = do(t, router, http.MethodPost, "/profiles/"+created.ID+"/refresh", "", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/profiles/"+created.ID, "", "")
	var got domain.Profile
	decode(t, rec, &got)
	if !strings.Contains(got.LastError, "direct:") || got.NodeCount != 0 {
		t.Fatalf("unexpected profile after failed refresh: %+v", got)
	}
}

func TestRefreshUnknownProfile(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestRouter(t), http.MethodPost, "/profiles/missing/refresh", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateSettingsPartial(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	rec := do(t, router, http.MethodPut, "/settings", "application/json", `{"mixedPort":17890,"selectionGroup":"Proxy"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update settings: %d %s", rec.Code, rec.Body.String())
	}
	var s domain.Settings
	decode(t, rec, &s)
	if s.MixedPort != 17890 || s.SelectionGroup != "Proxy" || s.SocksPort != domain.DefaultSocksPort {
		t.Fatalf("unexpected settings: %+v", s)
	}

	rec = do(t, router, http.MethodGet, "/config", "", "")
	if !strings.Contains(rec.Body.String(), "mixed-port: 17890") || !strings.Contains(rec.Body.String(), "MATCH,Proxy") {
		t.Fatalf("config does not reflect settings:\n%s", rec.Body.String())
	}
}

func TestCoreUnavailable(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestRouter(t), http.MethodGet, "/core/proxies", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSetCoreModeValidation(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestRouter(t), http.MethodPut, "/core/mode", "application/json", `{"mode":"bogus"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGETAppLogs_InvalidSince_ReturnsBadRequest(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	for _, since := range []string{"not-a-number", "-1"} {
		rec := do(t, router, http.MethodGet, "/app/logs?since="+since, "", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("since=%s: expected %d, got %d: %s", since, http.StatusBadRequest, rec.Code, rec.Body.String())
		}
	}
}
