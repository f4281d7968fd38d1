package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

type burnEstimate struct {
	DrugName     string  `json:"drug_name"`
	BurnRateDays float64 `json:"burn_rate_days"`
}

func TestAnalyzeValidOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		var req struct {
			Instructions string          `json:"instructions"`
			Input        json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Instructions == "" {
			t.Error("missing instructions")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"output": map[string]interface{}{
				"drug_name":      "Propofol",
				"burn_rate_days": 9.5,
			},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, zaptest.NewLogger(t))

	var out burnEstimate
	err := client.Analyze(context.Background(), "Estimate burn rate.",
		map[string]interface{}{"drug_name": "Propofol"}, &out)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.DrugName != "Propofol" || out.BurnRateDays != 9.5 {
		t.Errorf("unexpected result: %+v", out)
	}
}

func TestAnalyzeInvalidOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Shape mismatch: output is a string where a struct is expected
		json.NewEncoder(w).Encode(map[string]interface{}{"output": "not json we can use"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))

	var out burnEstimate
	err := client.Analyze(context.Background(), "Estimate burn rate.", nil, &out)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestAnalyzeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad input"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))

	var out burnEstimate
	err := client.Analyze(context.Background(), "x", nil, &out)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if errors.Is(err, ErrInvalidResponse) {
		t.Error("4xx must not read as a validation failure")
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	if err := client.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}
}
