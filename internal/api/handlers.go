// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/pkb"
	"github.com/tomtom215/pkbsync/internal/source"
)

// PKBService is the subset of *pkb.Service the API serves.
type PKBService interface {
	Identity() string
	URLScheme() string
	Directories() []pkb.DirectoryMeta
	State(dir pkb.DirectoryID) (pkb.SyncState, error)
	ListEntries(ctx context.Context, dir pkb.DirectoryID) ([]*pkb.Entry, error)
	SyncDirectory(ctx context.Context, dir pkb.DirectoryID) (*pkb.MergeResult, error)
	ResolveURL(ctx context.Context, u *pkb.URL) (*pkb.Entry, error)
}

// SourceLister lists live push endpoints, typically *source.Manager.
type SourceLister interface {
	Endpoints() []source.Endpoint
}

// Runner reports whether a background component is up, typically *dbactor.Actor.
type Runner interface {
	Running() bool
}

// Handler serves the admin API.
type Handler struct {
	pkb     PKBService
	sources SourceLister
	actor   Runner
	started time.Time
}

// DirectoryInfo is one row of GET /api/v1/directories.
type DirectoryInfo struct {
	ID        pkb.DirectoryID `json:"id"`
	State     string          `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	Remotes   []string        `json:"remotes"`
}

// SourceInfo is one row of GET /api/v1/sources.
type SourceInfo struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
	Path   string `json:"path,omitempty"`
}

// ResolvedEntry is the body of GET /api/v1/resolve.
type ResolvedEntry struct {
	URL   string     `json:"url"`
	Entry *pkb.Entry `json:"entry"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status      string  `json:"status"`
	Identity    string  `json:"identity"`
	Directories int     `json:"directories"`
	Database    string  `json:"database"`
	Uptime      float64 `json:"uptime_seconds"`
}

// Health reports liveness. It answers 503 while the projection database
// is down so load balancers stop routing to a degraded node.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:      "healthy",
		Identity:    h.pkb.Identity(),
		Directories: len(h.pkb.Directories()),
		Database:    "disabled",
		Uptime:      time.Since(h.started).Seconds(),
	}
	code := http.StatusOK
	if h.actor != nil {
		status.Database = "connected"
		if !h.actor.Running() {
			status.Status = "degraded"
			status.Database = "disconnected"
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, &Response{Status: "success", Data: status, Timestamp: time.Now().UTC()})
}

func (h *Handler) ListDirectories(w http.ResponseWriter, r *http.Request) {
	metas := h.pkb.Directories()
	out := make([]DirectoryInfo, 0, len(metas))
	for _, m := range metas {
		info := DirectoryInfo{ID: m.ID, CreatedAt: m.CreatedAt, Remotes: make([]string, 0, len(m.Remotes))}
		if st, err := h.pkb.State(m.ID); err == nil {
			info.State = st.String()
		}
		for _, b := range m.Remotes {
			info.Remotes = append(info.Remotes, b.Name())
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	respondOK(w, out)
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	dir, ok := directoryParam(w, r)
	if !ok {
		return
	}
	entries, err := h.pkb.ListEntries(r.Context(), dir)
	if err != nil {
		respondPKBError(w, err)
		return
	}
	respondOK(w, entries)
}

// SyncDirectory runs one sync of the directory and returns the merge
// result. Per-remote failures are reported in the result, not as an error
// status.
func (h *Handler) SyncDirectory(w http.ResponseWriter, r *http.Request) {
	dir, ok := directoryParam(w, r)
	if !ok {
		return
	}
	ctx := logging.ContextWithDirectory(r.Context(), string(dir))
	result, err := h.pkb.SyncDirectory(ctx, dir)
	if err != nil {
		respondPKBError(w, err)
		return
	}
	respondOK(w, result)
}

// Resolve looks up the entry a PKB URL points at.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "url query parameter is required", nil)
		return
	}
	u, err := pkb.ParseURL(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidPKBURL, err.Error(), nil)
		return
	}
	if scheme := h.pkb.URLScheme(); scheme != "" && u.Scheme != scheme {
		respondError(w, http.StatusBadRequest, CodeInvalidPKBURL, "unexpected scheme "+u.Scheme+", want "+scheme, nil)
		return
	}

	entry, err := h.pkb.ResolveURL(r.Context(), u)
	if err != nil {
		respondPKBError(w, err)
		return
	}
	respondOK(w, ResolvedEntry{URL: u.String(), Entry: entry})
}

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	out := []SourceInfo{}
	if h.sources != nil {
		for _, ep := range h.sources.Endpoints() {
			out = append(out, SourceInfo{ID: ep.ID, Kind: ep.Kind, Source: ep.Source, Path: ep.Path})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	respondOK(w, out)
}

func directoryParam(w http.ResponseWriter, r *http.Request) (pkb.DirectoryID, bool) {
	dir := pkb.DirectoryID(chi.URLParam(r, "dir"))
	if err := dir.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return "", false
	}
	return dir, true
}

// respondPKBError maps service errors onto HTTP statuses. Only unexpected
// errors are logged.
func respondPKBError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkb.ErrNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, pkb.ErrInvalidDirectory):
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, pkb.ErrSyncInProgress):
		respondError(w, http.StatusConflict, CodeSyncInProgress, err.Error(), nil)
	case errors.Is(err, pkb.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "service is shutting down", nil)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, CodeUnavailable, "request timed out", err)
	default:
		respondError(w, http.StatusInternalServerError, CodeInternal, "internal error", err)
	}
}
