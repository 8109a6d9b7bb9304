package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	ctx := context.Background()

	if err := d.Initialize(ctx, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := d.SendCommand(ctx, "SCAN", ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand = %v, want ErrNotConnected", err)
	}
	if st := d.Status(ctx); st.Connected || st.Scans != 0 {
		t.Errorf("Status = %+v, want zero", st)
	}

	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after Unsubscribe")
	}

	_, ch = d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after Close")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	_, ch = d.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("subscribe after Close should return a closed channel")
	}
}

func TestDisabledSerialMux_Monitor(t *testing.T) {
	d := NewDisabledSerialMux()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Monitor(ctx) }()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return")
	}
}

func TestDisabledSerialMux_AdminRoutes(t *testing.T) {
	d := NewDisabledSerialMux()
	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/scanner-disabled", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "scanner disabled" {
		t.Errorf("body = %q", w.Body.String())
	}
}
