package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"Vaultnet/internal/async"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
)

// mockStore keeps chunks in memory and answers version calls from fixed values.
type mockStore struct {
	chunks   map[data.Name][]byte
	versions []data.VersionName
	err      error
	deleted  []data.VersionName
	created  createRequest
}

func newMockStore() *mockStore {
	return &mockStore{chunks: make(map[data.Name][]byte)}
}

func (m *mockStore) PutChunk(name data.Name, content []byte) *async.Future[struct{}] {
	m.chunks[name] = content
	return async.Resolved(struct{}{})
}

func (m *mockStore) GetChunk(name data.Name) *async.Future[[]byte] {
	content, ok := m.chunks[name]
	if !ok {
		return async.Failed[[]byte](errs.New(errs.ErrNotFound, "chunk %s", name))
	}

	return async.Resolved(content)
}

func (m *mockStore) CreateSDV(_ data.Name, root data.VersionName, maxVersions, maxBranches uint32) *async.Future[struct{}] {
	m.created = createRequest{Root: toJSON(root), MaxVersions: maxVersions, MaxBranches: maxBranches}
	return m.unit()
}

func (m *mockStore) PutSDVVersion(data.Name, data.VersionName, data.VersionName) *async.Future[struct{}] {
	return m.unit()
}

func (m *mockStore) GetSDVVersions(data.Name) *async.Future[[]data.VersionName] {
	return m.list()
}

func (m *mockStore) GetBranches(data.Name) *async.Future[[]data.VersionName] {
	return m.list()
}

func (m *mockStore) GetBranchVersions(data.Name, data.VersionName) *async.Future[[]data.VersionName] {
	return m.list()
}

func (m *mockStore) DeleteBranchUntilFork(_ data.Name, tip data.VersionName) *async.Future[struct{}] {
	m.deleted = append(m.deleted, tip)
	return m.unit()
}

func (m *mockStore) unit() *async.Future[struct{}] {
	if m.err != nil {
		return async.Failed[struct{}](m.err)
	}

	return async.Resolved(struct{}{})
}

func (m *mockStore) list() *async.Future[[]data.VersionName] {
	if m.err != nil {
		return async.Failed[[]data.VersionName](m.err)
	}

	return async.Resolved(m.versions)
}

// mockStatus is a fixed membership.
type mockStatus struct{}

func (mockStatus) Identity() data.Identity  { return data.Identity{0xAB} }
func (mockStatus) Members() []data.Identity { return []data.Identity{{0xAB}, {0xCD}} }

// serve runs one request through the router.
func serve(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	return w
}

// decode parses a JSON response body.
func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()

	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	w := serve(t, New(":0", newMockStore(), nil, 4), "GET", "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	decode(t, w, &resp)

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestStatus(t *testing.T) {
	w := serve(t, New(":0", newMockStore(), nil, 4), "GET", "/status", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("nil provider: expected 503, got %d", w.Code)
	}

	w = serve(t, New(":0", newMockStore(), mockStatus{}, 4), "GET", "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Identity  string `json:"identity"`
		Members   int    `json:"members"`
		GroupSize int    `json:"groupSize"`
	}
	decode(t, w, &resp)

	if resp.Members != 2 || resp.GroupSize != 4 || !strings.HasPrefix(resp.Identity, "ab") {
		t.Errorf("status = %+v", resp)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	store := newMockStore()
	s := New(":0", store, nil, 4)
	content := []byte("chunk over http")

	w := serve(t, s, "PUT", "/chunks", content)
	if w.Code != http.StatusCreated {
		t.Fatalf("put: expected 201, got %d: %s", w.Code, w.Body)
	}

	var resp map[string]string
	decode(t, w, &resp)

	if resp["name"] != formatName(data.Immutable(content)) {
		t.Errorf("name = %s, want %s", resp["name"], formatName(data.Immutable(content)))
	}

	w = serve(t, s, "GET", "/chunks/"+resp["name"], nil)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), content) {
		t.Errorf("get = (%d, %q), want (200, %q)", w.Code, w.Body.Bytes(), content)
	}
}

func TestChunkErrors(t *testing.T) {
	s := New(":0", newMockStore(), nil, 4)

	tests := []struct {
		method string
		target string
		body   []byte
		want   int
	}{
		{"PUT", "/chunks", nil, http.StatusBadRequest},
		{"PUT", "/chunks", make([]byte, maxChunkSize+1), http.StatusRequestEntityTooLarge},
		{"GET", "/chunks/zz", nil, http.StatusBadRequest},
		{"GET", "/chunks/" + hex.EncodeToString([]byte{9}), nil, http.StatusBadRequest},
		{"GET", "/chunks/" + formatName(data.Immutable([]byte("missing"))), nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		if w := serve(t, s, tt.method, tt.target, tt.body); w.Code != tt.want {
			t.Errorf("%s %s: got %d, want %d", tt.method, tt.target, w.Code, tt.want)
		}
	}
}

func TestCreateSDV(t *testing.T) {
	store := newMockStore()
	s := New(":0", store, nil, 4)
	target := "/sdv/" + formatName(data.Immutable([]byte("tree")))
	rootID := strings.Repeat("01", data.IDSize)

	body := []byte(`{"root":{"index":0,"id":"` + rootID + `"},"maxVersions":10,"maxBranches":2}`)

	if w := serve(t, s, "POST", target, body); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}

	if store.created.MaxVersions != 10 || store.created.MaxBranches != 2 || store.created.Root.ID != rootID {
		t.Errorf("created = %+v", store.created)
	}

	if w := serve(t, s, "POST", target, []byte("{")); w.Code != http.StatusBadRequest {
		t.Errorf("bad json: got %d, want 400", w.Code)
	}

	if w := serve(t, s, "POST", target, []byte(`{"root":{"id":"00"}}`)); w.Code != http.StatusBadRequest {
		t.Errorf("short id: got %d, want 400", w.Code)
	}

	store.err = errs.New(errs.ErrAlreadyExists, "tree exists")

	if w := serve(t, s, "POST", target, body); w.Code != http.StatusConflict {
		t.Errorf("existing tree: got %d, want 409", w.Code)
	}
}

func TestGetVersions(t *testing.T) {
	tip := data.VersionName{Index: 2, ID: data.ID{0x0A}}
	store := newMockStore()
	store.versions = []data.VersionName{tip, {Index: 1, ID: data.ID{0x09}}}
	s := New(":0", store, nil, 4)
	target := "/sdv/" + formatName(data.Immutable([]byte("tree"))) + "/versions"

	w := serve(t, s, "GET", target, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Versions []versionJSON `json:"versions"`
	}
	decode(t, w, &resp)

	if len(resp.Versions) != 2 || resp.Versions[0] != toJSON(tip) {
		t.Errorf("versions = %+v", resp.Versions)
	}

	store.err = errs.New(errs.ErrFork, "two tips")

	w = serve(t, s, "GET", target, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("fork: got %d, want 409", w.Code)
	}

	var failure map[string]string
	decode(t, w, &failure)

	if failure["kind"] != errs.ErrFork.Error() {
		t.Errorf("kind = %q, want %q", failure["kind"], errs.ErrFork.Error())
	}
}

func TestDeleteBranch(t *testing.T) {
	store := newMockStore()
	s := New(":0", store, nil, 4)
	tip := data.VersionName{Index: 3, ID: data.ID{0x0C}}
	base := "/sdv/" + formatName(data.Immutable([]byte("tree"))) + "/branches/"

	w := serve(t, s, "DELETE", base+"3."+hex.EncodeToString(tip.ID[:]), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body)
	}

	if len(store.deleted) != 1 || store.deleted[0] != tip {
		t.Errorf("deleted = %v, want [%s]", store.deleted, tip)
	}

	if w := serve(t, s, "DELETE", base+"3", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing id: got %d, want 400", w.Code)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.New(errs.ErrNotFound, "x"), http.StatusNotFound},
		{errs.New(errs.ErrFork, "x"), http.StatusConflict},
		{errs.New(errs.ErrValidation, "x"), http.StatusBadRequest},
		{errs.New(errs.ErrTimedOut, "x"), http.StatusGatewayTimeout},
		{errs.New(errs.ErrTransport, "x"), http.StatusBadGateway},
		{errs.New(errs.ErrCancelled, "x"), http.StatusServiceUnavailable},
		{errs.Wrap(errs.New(errs.ErrParsing, "x"), "context"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
