package agrosubsidy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusAndLogs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Status{Chain: "hardhat", SchemeID: "scheme-001", Cursor: 42})
	})
	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("since"); got != "1000" {
			t.Errorf("since = %q, want 1000", got)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q, want 5", got)
		}
		_ = json.NewEncoder(w).Encode(Logs{
			Now:     2000,
			Entries: []LogEntry{{Timestamp: 1500, Level: "info", Text: "检测到灾害事件"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Chain != "hardhat" || status.Cursor != 42 {
		t.Fatalf("unexpected status: %+v", status)
	}

	logs, err := client.Logs(ctx, 1000, 5)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if logs.Now != 2000 || len(logs.Entries) != 1 {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestSimulateSendsTokenAndBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/simulate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ops-token" {
			t.Errorf("authorization = %q", got)
		}
		var req SimulateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Region != "EastDistrict" {
			t.Errorf("region = %q", req.Region)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(TriggerAck{Status: "queued", EventID: "demo-1", Region: req.Region})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetToken("ops-token")

	ack, err := client.Simulate(context.Background(), SimulateRequest{Region: "EastDistrict"})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if ack.Status != "queued" || ack.EventID != "demo-1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestAPIErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "触发队列未初始化", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Demo(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d", apiErr.StatusCode)
	}
}
