// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/validation"
)

// DefaultWebhookMaxItems bounds one webhook delivery when the source sets no limit.
const DefaultWebhookMaxItems = 500

// TokenHeader carries the webhook secret.
const TokenHeader = "X-PKB-Token"

// maxWebhookBody caps request bodies at 8 MiB.
const maxWebhookBody = 8 << 20

// WebhookPayload is the body of a webhook delivery.
type WebhookPayload struct {
	Items []Item `json:"items" validate:"required,min=1,dive"`
}

type webhookEndpoint struct {
	ep  Endpoint
	cfg *WebhookConfig
}

// Webhook receives items over HTTP. Each endpoint is served at
// /hooks/{id}; mount Routes under /hooks.
type Webhook struct {
	logger    zerolog.Logger
	handler   ItemsHandler
	endpoints *xsync.MapOf[string, webhookEndpoint]
}

var _ PushAdapter = (*Webhook)(nil)

func NewWebhook() *Webhook {
	return &Webhook{
		logger:    logging.WithComponent("source.webhook"),
		endpoints: xsync.NewMapOf[string, webhookEndpoint](),
	}
}

func (*Webhook) Kind() string { return KindWebhook }

func (*Webhook) Capabilities() Capabilities { return Capabilities{CapabilityPush} }

func (*Webhook) CreatePushConfig(params map[string]string) (AdapterConfig, error) {
	return webhookConfigFromParams(params)
}

func (w *Webhook) OnItems(fn ItemsHandler) { w.handler = fn }

func (w *Webhook) SetupEndpoint(_ context.Context, source string, cfg AdapterConfig) (Endpoint, error) {
	c, ok := cfg.(*WebhookConfig)
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: webhook adapter given %T", ErrInvalidConfig, cfg)
	}
	if w.handler == nil {
		return Endpoint{}, errors.New("webhook: OnItems must be called before SetupEndpoint")
	}
	id := uuid.NewString()
	ep := Endpoint{ID: id, Kind: KindWebhook, Source: source, Path: "/hooks/" + id}
	w.endpoints.Store(id, webhookEndpoint{ep: ep, cfg: c})
	w.logger.Info().Str("source", source).Str("path", ep.Path).Msg("Webhook endpoint registered")
	return ep, nil
}

func (w *Webhook) TeardownEndpoint(_ context.Context, id string) error {
	if _, ok := w.endpoints.LoadAndDelete(id); !ok {
		return fmt.Errorf("webhook endpoint %s: not found", id)
	}
	return nil
}

// Endpoints lists the registered endpoints.
func (w *Webhook) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, w.endpoints.Size())
	w.endpoints.Range(func(_ string, e webhookEndpoint) bool {
		out = append(out, e.ep)
		return true
	})
	return out
}

// Routes returns the router serving every endpoint.
func (w *Webhook) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{endpoint}", w.serveDelivery)
	return r
}

type webhookError struct {
	Error string `json:"error"`
}

func (w *Webhook) serveDelivery(rw http.ResponseWriter, r *http.Request) {
	e, ok := w.endpoints.Load(chi.URLParam(r, "endpoint"))
	if !ok {
		writeJSON(rw, http.StatusNotFound, webhookError{Error: "unknown endpoint"})
		return
	}
	if e.cfg.Secret != "" {
		token := r.Header.Get(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(e.cfg.Secret)) != 1 {
			writeJSON(rw, http.StatusUnauthorized, webhookError{Error: "invalid token"})
			return
		}
	}

	var payload WebhookPayload
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxWebhookBody))
	if err := dec.Decode(&payload); err != nil {
		writeJSON(rw, http.StatusBadRequest, webhookError{Error: "invalid body: " + err.Error()})
		return
	}
	maxItems := e.cfg.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultWebhookMaxItems
	}
	if len(payload.Items) > maxItems {
		writeJSON(rw, http.StatusRequestEntityTooLarge, webhookError{Error: fmt.Sprintf("at most %d items per delivery", maxItems)})
		return
	}
	if err := validation.ValidateStruct(&payload); err != nil {
		writeJSON(rw, http.StatusBadRequest, webhookError{Error: err.Error()})
		return
	}

	res := w.handler(r.Context(), e.ep, payload.Items)
	status := http.StatusOK
	if res.Processed == 0 && len(res.Failed) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(rw, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
