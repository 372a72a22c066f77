// Package api exposes the node's chunk and version-tree operations over HTTP.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"Vaultnet/internal/async"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/logger"
)

const (
	// maxChunkSize is the maximum chunk size in bytes.
	maxChunkSize = 1 << 20 // 1 MB

	// maxJSONSize bounds JSON request bodies.
	maxJSONSize = 4 << 10
)

// Store performs group operations on chunks and version trees.
type Store interface {
	PutChunk(name data.Name, content []byte) *async.Future[struct{}]
	GetChunk(name data.Name) *async.Future[[]byte]
	CreateSDV(name data.Name, root data.VersionName, maxVersions, maxBranches uint32) *async.Future[struct{}]
	PutSDVVersion(name data.Name, old, next data.VersionName) *async.Future[struct{}]
	GetSDVVersions(name data.Name) *async.Future[[]data.VersionName]
	GetBranches(name data.Name) *async.Future[[]data.VersionName]
	GetBranchVersions(name data.Name, tip data.VersionName) *async.Future[[]data.VersionName]
	DeleteBranchUntilFork(name data.Name, tip data.VersionName) *async.Future[struct{}]
}

// StatusProvider exposes network membership for monitoring.
type StatusProvider interface {
	Identity() data.Identity
	Members() []data.Identity
}

// Server is the HTTP API server.
type Server struct {
	addr      string         // addr is the HTTP listen address
	store     Store          // store performs the operations
	status    StatusProvider // status provides membership, may be nil
	groupSize int            // groupSize is reported by /status
	server    *http.Server   // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, store Store, status StatusProvider, groupSize int) *Server {
	return &Server{
		addr:      addr,
		store:     store,
		status:    status,
		groupSize: groupSize,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("PUT /chunks", s.handlePutChunk)
	mux.HandleFunc("GET /chunks/{name}", s.handleGetChunk)
	mux.HandleFunc("POST /sdv/{name}", s.handleCreateSDV)
	mux.HandleFunc("POST /sdv/{name}/versions", s.handlePutVersion)
	mux.HandleFunc("GET /sdv/{name}/versions", s.handleGetVersions)
	mux.HandleFunc("GET /sdv/{name}/branches", s.handleGetBranches)
	mux.HandleFunc("GET /sdv/{name}/branches/{tip}", s.handleGetBranch)
	mux.HandleFunc("DELETE /sdv/{name}/branches/{tip}", s.handleDeleteBranch)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	id := s.status.Identity()

	writeJSON(w, http.StatusOK, map[string]any{
		"identity":  hex.EncodeToString(id[:]),
		"members":   len(s.status.Members()),
		"groupSize": s.groupSize,
	})
}

// handlePutChunk handles PUT /chunks: stores the body as an immutable chunk.
func (s *Server) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChunkSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty chunk")
		return
	}

	if len(body) > maxChunkSize {
		writeError(w, http.StatusRequestEntityTooLarge, "chunk too large")
		return
	}

	name := data.Immutable(body)

	if _, err := wait(r.Context(), s.store.PutChunk(name, body)); err != nil {
		writeFailure(w, err)
		return
	}

	logger.Debug("chunk stored", "name", name, "bytes", len(body))

	writeJSON(w, http.StatusCreated, map[string]string{
		"name": formatName(name),
	})
}

// handleGetChunk handles GET /chunks/{name}.
func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}

	content, err := wait(r.Context(), s.store.GetChunk(name))
	if err != nil {
		writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

// createRequest is the body of POST /sdv/{name}.
type createRequest struct {
	Root        versionJSON `json:"root"`
	MaxVersions uint32      `json:"maxVersions"`
	MaxBranches uint32      `json:"maxBranches"`
}

// handleCreateSDV handles POST /sdv/{name}.
func (s *Server) handleCreateSDV(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}

	var req createRequest
	if !readJSON(w, r, &req) {
		return
	}

	root, err := req.Root.version()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := wait(r.Context(), s.store.CreateSDV(name, root, req.MaxVersions, req.MaxBranches)); err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"name": formatName(name)})
}

// putVersionRequest is the body of POST /sdv/{name}/versions.
type putVersionRequest struct {
	Old versionJSON `json:"old"`
	New versionJSON `json:"new"`
}

// handlePutVersion handles POST /sdv/{name}/versions.
func (s *Server) handlePutVersion(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}

	var req putVersionRequest
	if !readJSON(w, r, &req) {
		return
	}

	old, err := req.Old.version()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	next, err := req.New.version()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := wait(r.Context(), s.store.PutSDVVersion(name, old, next)); err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toJSON(next))
}

// handleGetVersions handles GET /sdv/{name}/versions: the single branch,
// tip first. A forked tree is reported as a conflict.
func (s *Server) handleGetVersions(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}

	s.writeVersions(w, r, s.store.GetSDVVersions(name))
}

// handleGetBranches handles GET /sdv/{name}/branches.
func (s *Server) handleGetBranches(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}

	s.writeVersions(w, r, s.store.GetBranches(name))
}

// handleGetBranch handles GET /sdv/{name}/branches/{tip}.
func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}

	tip, ok := pathVersion(w, r)
	if !ok {
		return
	}

	s.writeVersions(w, r, s.store.GetBranchVersions(name, tip))
}

// handleDeleteBranch handles DELETE /sdv/{name}/branches/{tip}.
func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}

	tip, ok := pathVersion(w, r)
	if !ok {
		return
	}

	if _, err := wait(r.Context(), s.store.DeleteBranchUntilFork(name, tip)); err != nil {
		writeFailure(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeVersions waits for f and writes the version list.
func (s *Server) writeVersions(w http.ResponseWriter, r *http.Request, f *async.Future[[]data.VersionName]) {
	versions, err := wait(r.Context(), f)
	if err != nil {
		writeFailure(w, err)
		return
	}

	out := make([]versionJSON, len(versions))
	for i, v := range versions {
		out[i] = toJSON(v)
	}

	writeJSON(w, http.StatusOK, map[string]any{"versions": out})
}

// wait blocks on f until it resolves or the request ends.
func wait[T any](ctx context.Context, f *async.Future[T]) (T, error) {
	v, err := f.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		return v, errs.Cancelled(err, "request ended")
	}

	return v, err
}

// readJSON decodes a bounded JSON body into v, writing 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONSize)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}

// statusOf maps an operation error to an HTTP status.
func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrNotFound:
		return http.StatusNotFound
	case errs.ErrAlreadyExists, errs.ErrFork:
		return http.StatusConflict
	case errs.ErrInvalidArgument, errs.ErrValidation, errs.ErrParsing:
		return http.StatusBadRequest
	case errs.ErrTimedOut, errs.ErrQuorumExhausted:
		return http.StatusGatewayTimeout
	case errs.ErrTransport:
		return http.StatusBadGateway
	case errs.ErrCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes an operation error with its kind.
func writeFailure(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Warn("api operation failed", "status", status, "error", err)
	}

	body := map[string]string{"error": err.Error()}
	if kind := errs.KindOf(err); kind != nil {
		body["kind"] = kind.Error()
	}

	writeJSON(w, status, body)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
