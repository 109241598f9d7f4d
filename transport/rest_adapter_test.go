package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

func TestRESTAdapter_GetJSONSendsBearerAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Fatalf("expected bearer header, got %q", got)
		}
		if got := r.URL.Query().Get("month"); got != "3" {
			t.Fatalf("expected month query, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Acme"}`))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	var out struct {
		Name string `json:"name"`
	}
	if err := adapter.GetJSON(context.Background(), server.URL+"/company", "token-1", map[string]string{"month": "3"}, &out); err != nil {
		t.Fatalf("get json: %v", err)
	}
	if out.Name != "Acme" {
		t.Fatalf("expected decoded name, got %q", out.Name)
	}
}

func TestRESTAdapter_StatusMapping(t *testing.T) {
	cases := []struct {
		status   int
		textCode string
	}{
		{status: http.StatusUnauthorized, textCode: TextCodeUpstreamUnauthorized},
		{status: http.StatusForbidden, textCode: TextCodeUpstreamForbidden},
		{status: http.StatusTooManyRequests, textCode: TextCodeUpstreamRateLimited},
		{status: http.StatusInternalServerError, textCode: TextCodeUpstreamFailure},
	}
	for _, tc := range cases {
		err := CheckStatus(core.TransportResponse{StatusCode: tc.status, Body: []byte("nope")})
		if err == nil {
			t.Fatalf("expected error for status %d", tc.status)
		}
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("expected go-errors envelope for status %d", tc.status)
		}
		if rich.TextCode != tc.textCode {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.textCode, rich.TextCode)
		}
		if StatusCode(err) != tc.status {
			t.Fatalf("expected status metadata %d, got %d", tc.status, StatusCode(err))
		}
	}
	if err := CheckStatus(core.TransportResponse{StatusCode: http.StatusNoContent}); err != nil {
		t.Fatalf("expected 2xx to pass, got %v", err)
	}
}

func TestRESTAdapter_ResponseBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 16
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: server.URL})
	if err == nil {
		t.Fatalf("expected body limit error")
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRESTAdapter_RequiresURL(t *testing.T) {
	_, err := NewRESTAdapter(nil).Do(context.Background(), core.TransportRequest{})
	if !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestRESTAdapter_NilClient(t *testing.T) {
	var adapter *RESTAdapter
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: "http://example.test"})
	if !core.HasTextCode(err, core.ErrorInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestDecodeJSON_EmptyBody(t *testing.T) {
	var out map[string]any
	if err := DecodeJSON(core.TransportResponse{StatusCode: 200}, &out); err == nil {
		t.Fatalf("expected empty body error")
	}
}
