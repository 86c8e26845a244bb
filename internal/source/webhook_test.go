// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookFixture struct {
	hook   *Webhook
	srv    *httptest.Server
	ep     Endpoint
	mu     sync.Mutex
	pushed []Item
}

func newWebhookFixture(t *testing.T, params map[string]string) *webhookFixture {
	t.Helper()
	f := &webhookFixture{hook: NewWebhook()}
	f.hook.OnItems(func(_ context.Context, _ Endpoint, items []Item) BatchResult {
		f.mu.Lock()
		defer f.mu.Unlock()
		res := BatchResult{}
		for _, it := range items {
			if it.Title == "fail" {
				res.Failed = append(res.Failed, ItemFailure{SourceID: it.SourceID, Reason: "rejected"})
				continue
			}
			f.pushed = append(f.pushed, it)
			res.Processed++
		}
		return res
	})

	cfg, err := f.hook.CreatePushConfig(params)
	require.NoError(t, err)
	f.ep, err = f.hook.SetupEndpoint(context.Background(), "inbox", cfg)
	require.NoError(t, err)
	require.Equal(t, "/hooks/"+f.ep.ID, f.ep.Path)

	f.srv = httptest.NewServer(f.hook.Routes())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *webhookFixture) post(t *testing.T, id, token, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/"+id, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestWebhook_Delivery(t *testing.T) {
	f := newWebhookFixture(t, map[string]string{"secret": "s3cret"})

	resp, body := f.post(t, f.ep.ID, "s3cret",
		`{"items":[{"source_id":"m1","url":"https://example.com/a.jpg","title":"A"},{"source_id":"n1","body":"note"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var res BatchResult
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, 2, res.Processed)
	assert.Len(t, f.pushed, 2)
	assert.Equal(t, "m1", f.pushed[0].SourceID)
}

func TestWebhook_Rejections(t *testing.T) {
	f := newWebhookFixture(t, map[string]string{"secret": "s3cret", "max_items": "2"})
	valid := `{"items":[{"source_id":"a","body":"x"}]}`

	tests := []struct {
		name   string
		id     string
		token  string
		body   string
		status int
	}{
		{"unknown endpoint", "nope", "s3cret", valid, http.StatusNotFound},
		{"missing token", f.ep.ID, "", valid, http.StatusUnauthorized},
		{"wrong token", f.ep.ID, "guess", valid, http.StatusUnauthorized},
		{"malformed body", f.ep.ID, "s3cret", `{"items":`, http.StatusBadRequest},
		{"no items", f.ep.ID, "s3cret", `{"items":[]}`, http.StatusBadRequest},
		{"missing source id", f.ep.ID, "s3cret", `{"items":[{"body":"x"}]}`, http.StatusBadRequest},
		{"bad url", f.ep.ID, "s3cret", `{"items":[{"source_id":"a","url":"not a url"}]}`, http.StatusBadRequest},
		{"too many items", f.ep.ID, "s3cret", `{"items":[{"source_id":"a"},{"source_id":"b"},{"source_id":"c"}]}`, http.StatusRequestEntityTooLarge},
		{"all failed", f.ep.ID, "s3cret", `{"items":[{"source_id":"a","title":"fail"}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.post(t, tt.id, tt.token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, body)
		})
	}
	assert.Empty(t, f.pushed)
}

func TestWebhook_Teardown(t *testing.T) {
	f := newWebhookFixture(t, nil)
	assert.Len(t, f.hook.Endpoints(), 1)

	require.NoError(t, f.hook.TeardownEndpoint(context.Background(), f.ep.ID))
	assert.Empty(t, f.hook.Endpoints())
	assert.Error(t, f.hook.TeardownEndpoint(context.Background(), f.ep.ID))

	resp, _ := f.post(t, f.ep.ID, "", `{"items":[{"source_id":"a","body":"x"}]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
