package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		write func(http.ResponseWriter)
		code  int
	}{
		{MethodNotAllowed, http.StatusMethodNotAllowed},
		{func(w http.ResponseWriter) { BadRequest(w, "x") }, http.StatusBadRequest},
		{func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound},
		{func(w http.ResponseWriter) { InternalServerError(w, "x") }, http.StatusInternalServerError},
		{func(w http.ResponseWriter) { WriteJSONOK(w, []int{1}) }, http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.write(rec)
		if rec.Code != tt.code {
			t.Errorf("status = %d, want %d", rec.Code, tt.code)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type body struct {
		Opcode string `json:"opcode"`
	}
	tests := []struct {
		in      string
		wantErr bool
	}{
		{`{"opcode":"SCAN"}`, false},
		{`{"opcode":"SCAN","extra":1}`, true},
		{`{"opcode":"SCAN"}{"opcode":"SLEEP"}`, true},
		{`not json`, true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.in))
		var b body
		err := DecodeJSON(req, &b)
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodeJSON(%s) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestIsJSON(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if !IsJSON(req) {
		t.Error("expected JSON")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if IsJSON(req) {
		t.Error("form body reported as JSON")
	}
}
