package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/movierec/movierec/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestFetchPreferencesSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/preferences/user-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"data":{"fields":{"genre":"noir"},"completion_flag":true}}`))
	})

	raw, err := client.FetchPreferences(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FetchPreferences failed: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("payload unparseable: %v", err)
	}
	if doc["completion_flag"] != true {
		t.Errorf("unexpected payload: %s", raw)
	}
}

func TestFetchPreferencesNoData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	})

	_, err := client.FetchPreferences(context.Background(), "user-1")
	if models.CodeOf(err) != models.ErrorCodeNoDataFound {
		t.Errorf("expected NO_DATA_FOUND, got %v", err)
	}
}

func TestFetchPreferencesCodePassthrough(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"code":"NO_DATA_FOUND"}`))
	})

	_, err := client.FetchPreferences(context.Background(), "user-1")
	if models.CodeOf(err) != models.ErrorCodeNoDataFound {
		t.Errorf("expected NO_DATA_FOUND passthrough, got %v", err)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   models.ErrorCode
	}{
		{http.StatusUnauthorized, models.ErrorCodeAuth},
		{http.StatusForbidden, models.ErrorCodeAuth},
		{http.StatusNotFound, models.ErrorCodeNoDataFound},
		{http.StatusInternalServerError, models.ErrorCodeServer},
		{http.StatusBadGateway, models.ErrorCodeServer},
		{http.StatusBadRequest, models.ErrorCodeServer},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := client.FetchPreferences(context.Background(), "user-1")
		if models.CodeOf(err) != tc.want {
			t.Errorf("status %d: expected %s, got %v", tc.status, tc.want, err)
		}
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(WithBaseURL(url))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	_, err = client.FetchPreferences(context.Background(), "user-1")
	if models.CodeOf(err) != models.ErrorCodeNetwork {
		t.Errorf("expected NETWORK_ERROR, got %v", err)
	}
	if !models.IsTransient(err) {
		t.Error("network errors must classify as transient")
	}
}

func TestStorePreferences(t *testing.T) {
	var received string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		received = string(body)
		w.Write([]byte(`{"success":true}`))
	})

	payload := `{"fields":{"genre":"noir"},"completion_flag":true}`
	if err := client.StorePreferences(context.Background(), "user-1", payload); err != nil {
		t.Fatalf("StorePreferences failed: %v", err)
	}
	if received != payload {
		t.Errorf("payload mangled in transit: %s", received)
	}
}

func TestStorePreferencesRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"validation failed"}`))
	})

	err := client.StorePreferences(context.Background(), "user-1", `{}`)
	if models.CodeOf(err) != models.ErrorCodeServer {
		t.Errorf("expected SERVER_ERROR, got %v", err)
	}
}

func TestTokenSourceAttached(t *testing.T) {
	var auth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"success":true,"data":{"fields":{"a":"b"}}}`))
	})
	client.tokens = func() string { return "tok-123" }

	if _, err := client.FetchPreferences(context.Background(), "user-1"); err != nil {
		t.Fatalf("FetchPreferences failed: %v", err)
	}
	if auth != "Bearer tok-123" {
		t.Errorf("unexpected Authorization header %q", auth)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Setenv("MOVIEREC_REMOTE_URL", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without base URL")
	}
}
