package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseHostPort(t *testing.T) {
	tests := []struct {
		input string
		host  string
		port  int
		ok    bool
	}{
		{"localhost:3000", "localhost", 3000, true},
		{"127.0.0.1:8080", "127.0.0.1", 8080, true},
		{":5173", "localhost", 5173, true},
		{"http://localhost:4200", "localhost", 4200, true},
		{"https://localhost:4200/", "localhost", 4200, true},
		{"localhost", "", 0, false},
		{"localhost:notaport", "", 0, false},
		{"localhost:80", "", 0, false},
		{"localhost:99999", "", 0, false},
	}

	for _, tt := range tests {
		host, port, err := parseHostPort(tt.input)
		if tt.ok {
			if err != nil {
				t.Errorf("parseHostPort(%q): unexpected error: %v", tt.input, err)
			} else if host != tt.host || port != tt.port {
				t.Errorf("parseHostPort(%q): expected %s:%d, got %s:%d", tt.input, tt.host, tt.port, host, port)
			}
			continue
		}
		if err == nil {
			t.Errorf("parseHostPort(%q): expected error, got %s:%d", tt.input, host, port)
		}
	}
}

func TestValidateHints(t *testing.T) {
	valid := []EndpointHint{
		{Explicit: "localhost:3000"},
		{Logfile: "dev.log"},
		{Default: 5173},
	}
	if err := ValidateHints(valid); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := ValidateHints([]EndpointHint{{}}); err == nil {
		t.Error("expected error for empty hint")
	}
	if err := ValidateHints([]EndpointHint{{Explicit: "localhost:3000", Default: 3000}}); err == nil {
		t.Error("expected error for hint with two sources")
	}
	if err := ValidateHints([]EndpointHint{{Default: 80}}); err == nil {
		t.Error("expected error for privileged port")
	}
	if err := ValidateHints([]EndpointHint{{Explicit: "nonsense"}}); err == nil {
		t.Error("expected error for unparseable explicit hint")
	}
}

func TestEndpointHint_String(t *testing.T) {
	if s := (EndpointHint{Explicit: "localhost:3000"}).String(); s != "explicit localhost:3000" {
		t.Errorf("expected 'explicit localhost:3000', got '%s'", s)
	}
	if s := (EndpointHint{Logfile: "dev.log"}).String(); s != "logfile dev.log" {
		t.Errorf("expected 'logfile dev.log', got '%s'", s)
	}
	if s := (EndpointHint{Default: 5173}).String(); s != "default 5173" {
		t.Errorf("expected 'default 5173', got '%s'", s)
	}
	if s := (EndpointHint{}).String(); s != "empty hint" {
		t.Errorf("expected 'empty hint', got '%s'", s)
	}
}

func TestTargetEndpoint_Page(t *testing.T) {
	ep := TargetEndpoint{Scheme: "http", Host: "localhost", Port: 3000}

	tests := []struct {
		path string
		want string
	}{
		{"", "http://localhost:3000/"},
		{"/", "http://localhost:3000/"},
		{"/settings", "http://localhost:3000/settings"},
		{"settings", "http://localhost:3000/settings"},
		{"https://example.com/x", "https://example.com/x"},
	}
	for _, tt := range tests {
		if got := ep.Page(tt.path); got != tt.want {
			t.Errorf("Page(%q): expected %q, got %q", tt.path, tt.want, got)
		}
	}
}

func TestScanLogfileForPort(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "dev.log")

	tests := []struct {
		name    string
		content string
		port    int
		ok      bool
	}{
		{"vite", "  VITE v5.0.0  ready in 300 ms\n\n  Local:   http://localhost:5173/\n", 5173, true},
		{"next", "- Local:        http://localhost:3000\n", 3000, true},
		{"flask", " * Running on http://127.0.0.1:5000\n", 5000, true},
		{"plain port", "server listening on port 8080\n", 8080, true},
		{"restart wins", "Local: http://localhost:3000/\nLocal: http://localhost:3001/\n", 3001, true},
		{"no announcement", "compiling...\ndone.\n", 0, false},
		{"privileged ignored", "listening on port 80\n", 0, false},
	}

	for _, tt := range tests {
		os.WriteFile(logPath, []byte(tt.content), 0644)
		port, err := scanLogfileForPort(logPath)
		if tt.ok {
			if err != nil {
				t.Errorf("%s: unexpected error: %v", tt.name, err)
			} else if port != tt.port {
				t.Errorf("%s: expected port %d, got %d", tt.name, tt.port, port)
			}
			continue
		}
		if err == nil {
			t.Errorf("%s: expected error, got port %d", tt.name, port)
		}
	}
}

func TestScanLogfileForPort_Missing(t *testing.T) {
	_, err := scanLogfileForPort(filepath.Join(t.TempDir(), "missing.log"))
	if err == nil {
		t.Error("expected error for missing log file")
	}
}

func TestResolver_Resolve_Explicit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewResolver("http", time.Second, 5*time.Second)
	ep, err := r.Resolve(context.Background(), []EndpointHint{{Explicit: srv.Listener.Addr().String()}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.URL() != srv.URL {
		t.Errorf("expected %s, got %s", srv.URL, ep.URL())
	}
}

func TestResolver_Resolve_ErrorStatusIsLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewResolver("http", time.Second, 5*time.Second)
	if _, err := r.Resolve(context.Background(), []EndpointHint{{Explicit: srv.Listener.Addr().String()}}); err != nil {
		t.Fatalf("expected a 500 server to count as live, got error: %v", err)
	}
}

func TestResolver_Resolve_DefaultHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, port, err := parseHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := NewResolver("http", time.Second, 5*time.Second)
	ep, err := r.Resolve(context.Background(), []EndpointHint{{Default: port}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Port != port {
		t.Errorf("expected port %d, got %d", port, ep.Port)
	}
	if ep.Host != "localhost" {
		t.Errorf("expected localhost, got %s", ep.Host)
	}
}

func TestResolver_Resolve_FirstHintClaimsPriority(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer second.Close()

	r := NewResolver("http", time.Second, 5*time.Second)
	ep, err := r.Resolve(context.Background(), []EndpointHint{
		{Explicit: first.Listener.Addr().String()},
		{Explicit: second.Listener.Addr().String()},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.URL() != first.URL {
		t.Errorf("expected first hint to win: expected %s, got %s", first.URL, ep.URL())
	}
}

func TestResolver_Resolve_FallsPastDeadHint(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadAddr := dead.Listener.Addr().String()
	dead.Close()

	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer live.Close()

	r := NewResolver("http", time.Second, 5*time.Second)
	ep, err := r.Resolve(context.Background(), []EndpointHint{
		{Explicit: deadAddr},
		{Explicit: live.Listener.Addr().String()},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.URL() != live.URL {
		t.Errorf("expected the live hint to win: expected %s, got %s", live.URL, ep.URL())
	}
}

func TestResolver_Resolve_AllDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	r := NewResolver("http", 200*time.Millisecond, time.Second)
	_, err := r.Resolve(context.Background(), []EndpointHint{{Explicit: addr}})
	if err == nil {
		t.Fatal("expected resolution to fail")
	}

	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %T", err)
	}
	if len(resErr.Attempts) == 0 {
		t.Error("expected failed attempts in the error")
	}
	if !strings.Contains(err.Error(), "explicit "+addr) {
		t.Errorf("expected the hint in the error message, got: %v", err)
	}
}

func TestResolver_Resolve_NoHints(t *testing.T) {
	r := NewResolver("http", time.Second, time.Second)
	_, err := r.Resolve(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error with no hints")
	}
	if !strings.Contains(err.Error(), "no endpoint hints configured") {
		t.Errorf("expected the no-hints message, got: %v", err)
	}
}

func TestResolver_Resolve_LogfileHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, port, err := parseHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logPath := filepath.Join(t.TempDir(), "dev.log")
	announcement := fmt.Sprintf("ready\n  Local: http://localhost:%d/\n", port)
	os.WriteFile(logPath, []byte(announcement), 0644)

	r := NewResolver("http", time.Second, 5*time.Second)
	ep, err := r.Resolve(context.Background(), []EndpointHint{{Logfile: logPath}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Port != port {
		t.Errorf("expected port %d, got %d", port, ep.Port)
	}
}

func TestResolver_Resolve_LogfileAppearsLate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, port, err := parseHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logPath := filepath.Join(t.TempDir(), "dev.log")
	go func() {
		time.Sleep(300 * time.Millisecond)
		announcement := fmt.Sprintf("  Local: http://localhost:%d/\n", port)
		os.WriteFile(logPath, []byte(announcement), 0644)
	}()

	r := NewResolver("http", time.Second, 5*time.Second)
	ep, err := r.Resolve(context.Background(), []EndpointHint{{Logfile: logPath}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Port != port {
		t.Errorf("expected port %d, got %d", port, ep.Port)
	}
}

func TestResolver_Resolve_WindowExpires(t *testing.T) {
	// A logfile that never appears keeps the resolver sweeping until
	// the window runs out.
	logPath := filepath.Join(t.TempDir(), "never.log")

	r := NewResolver("http", 200*time.Millisecond, 700*time.Millisecond)
	start := time.Now()
	_, err := r.Resolve(context.Background(), []EndpointHint{{Logfile: logPath}})
	if err == nil {
		t.Fatal("expected resolution to fail")
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("expected the resolver to keep trying for the window, gave up after %s", elapsed)
	}
	if !strings.Contains(err.Error(), "log file not created yet") {
		t.Errorf("expected the logfile reason in the error, got: %v", err)
	}
}
