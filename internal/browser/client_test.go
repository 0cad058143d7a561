package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	t.Run("creates client with defaults", func(t *testing.T) {
		client := NewClient("http://localhost:3000")
		if client == nil {
			t.Fatal("expected non-nil client")
		}
		if client.baseURL != "http://localhost:3000" {
			t.Errorf("expected baseURL http://localhost:3000, got %s", client.baseURL)
		}
	})

	t.Run("creates client with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		client := NewClient("http://localhost:3000", WithHTTPClient(customClient))
		if client.httpClient != customClient {
			t.Error("expected custom HTTP client to be set")
		}
	})
}

func TestClient_Health(t *testing.T) {
	t.Run("successful health check", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("expected path /health, got %s", r.URL.Path)
			}
			if r.Method != http.MethodGet {
				t.Errorf("expected GET method, got %s", r.Method)
			}
			json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Version: "1.0.0", BrowserReady: true, LoggedIn: true})
		}))
		defer server.Close()

		health, err := NewClient(server.URL).Health(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if health.Status != "ok" || !health.LoggedIn {
			t.Errorf("unexpected health %+v", health)
		}
	})

	t.Run("health check failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("service unavailable"))
		}))
		defer server.Close()

		if _, err := NewClient(server.URL).Health(context.Background()); err == nil {
			t.Fatal("expected error for unhealthy service")
		}
	})
}

func TestClient_SendInitialMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/messages/initial" {
			t.Errorf("expected path /api/v1/messages/initial, got %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type")
		}
		var req InitialMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.ProfileURL != "https://x/in/alice" || req.Text != "Hi Alice" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(ActionResponse{Success: true, ThreadURL: "https://x/messaging/thread/1"})
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).SendInitialMessage(context.Background(), InitialMessageRequest{
		ProfileURL: "https://x/in/alice",
		Text:       "Hi Alice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.ThreadURL == "" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestClient_LatestInbox(t *testing.T) {
	observed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req InboxRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Limit != 30 || len(req.AllowedProfiles) != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(InboxResponse{Success: true, Messages: []InboxMessage{
			{Text: "hello", ObservedAt: observed, ProfileURL: "https://x/in/alice", Incoming: true},
		}})
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).LatestInbox(context.Background(), InboxRequest{Limit: 30, AllowedProfiles: []string{"https://x/in/alice"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 1 || !resp.Messages[0].ObservedAt.Equal(observed) {
		t.Errorf("unexpected messages %+v", resp.Messages)
	}
}

func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("browser crashed"))
	}))
	defer server.Close()

	if _, err := NewClient(server.URL).SendReply(context.Background(), ReplyRequest{Text: "x"}); err == nil {
		t.Fatal("expected error on 5xx")
	}
}
