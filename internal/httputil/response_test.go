package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/banshee-data/vitals.report/internal/monitoring"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]int{"heart_rate": 72})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["heart_rate"] != 72 {
		t.Errorf("heart_rate = %d, want 72", resp["heart_rate"])
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"method not allowed", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "invalid hours") }, http.StatusBadRequest, "invalid hours"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "query failed") }, http.StatusInternalServerError, "query failed"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no record") }, http.StatusNotFound, "no record"},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "paused") }, http.StatusConflict, "paused"},
		{"unavailable", func(w http.ResponseWriter) { ServiceUnavailable(w, "no database") }, http.StatusServiceUnavailable, "no database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != tt.msg {
				t.Errorf("error = %q, want %q", resp["error"], tt.msg)
			}
		})
	}
}

func TestWriteJSON_EncodeFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	original := monitoring.L()
	monitoring.SetLogger(zap.New(core))
	defer monitoring.SetLogger(original)

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if logs.FilterMessage("failed to encode json response").Len() != 1 {
		t.Errorf("expected one encode warning, got %v", logs.All())
	}
}
