package main

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
)

func TestConsoleBuffer_BoundedRotation(t *testing.T) {
	b := newConsoleBuffer(3)
	for _, msg := range []string{"one", "two", "three", "four", "five"} {
		b.add("log", msg)
	}

	entries := b.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after rotation, got %d", len(entries))
	}
	if entries[0].Text != "three" {
		t.Errorf("expected oldest surviving entry 'three', got %q", entries[0].Text)
	}
	if entries[2].Text != "five" {
		t.Errorf("expected newest entry 'five', got %q", entries[2].Text)
	}
}

func TestConsoleBuffer_DefaultCapacity(t *testing.T) {
	b := newConsoleBuffer(0)
	if b.max != 200 {
		t.Errorf("expected default capacity 200, got %d", b.max)
	}
}

func TestConsoleBuffer_ErrorCountSurvivesRotation(t *testing.T) {
	b := newConsoleBuffer(2)
	b.add("error", "boom")
	b.add("exception", "uncaught TypeError")
	b.add("log", "fine")
	b.add("warning", "meh")

	// Both error-level entries have rotated out of the buffer.
	for _, e := range b.Entries() {
		if e.Kind == "error" || e.Kind == "exception" {
			t.Fatalf("expected error entries rotated out, found %q", e.Kind)
		}
	}
	if got := b.ErrorCount(); got != 2 {
		t.Errorf("expected error count 2, got %d", got)
	}
}

func TestConsoleBuffer_EntriesReturnsCopy(t *testing.T) {
	b := newConsoleBuffer(5)
	b.add("log", "original")

	entries := b.Entries()
	entries[0].Text = "mutated"

	if got := b.Entries()[0].Text; got != "original" {
		t.Errorf("expected buffer unaffected by caller mutation, got %q", got)
	}
}

func TestConsoleBuffer_Dump(t *testing.T) {
	b := newConsoleBuffer(5)
	b.add("error", "boom")
	b.add("log", "hello")

	dump := b.Dump()
	if !strings.Contains(dump, "error: boom") {
		t.Errorf("expected dump to contain error entry, got %q", dump)
	}
	if !strings.Contains(dump, "log: hello") {
		t.Errorf("expected dump to contain log entry, got %q", dump)
	}
}

func TestConsoleBuffer_DumpEmpty(t *testing.T) {
	b := newConsoleBuffer(5)
	if got := b.Dump(); got != "(no console output)\n" {
		t.Errorf("expected empty-buffer placeholder, got %q", got)
	}
}

func TestConsoleBuffer_ConcurrentAccess(t *testing.T) {
	b := newConsoleBuffer(50)

	var wg sync.WaitGroup

	// 10 goroutines each writing 100 errors
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.add("error", "concurrent")
			}
		}()
	}

	// 10 goroutines each reading
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.Entries()
				_ = b.Dump()
			}
		}()
	}

	wg.Wait()

	if got := b.ErrorCount(); got != 1000 {
		t.Errorf("expected 1000 errors counted, got %d", got)
	}
	if got := len(b.Entries()); got != 50 {
		t.Errorf("expected buffer clamped to 50 entries, got %d", got)
	}
}

func TestNetworkTracker_Inflight(t *testing.T) {
	n := newNetworkTracker()
	if got := n.Inflight(); got != 0 {
		t.Fatalf("expected 0 inflight, got %d", got)
	}

	n.start("a")
	n.start("b")
	if got := n.Inflight(); got != 2 {
		t.Errorf("expected 2 inflight, got %d", got)
	}

	n.finish("a")
	if got := n.Inflight(); got != 1 {
		t.Errorf("expected 1 inflight, got %d", got)
	}

	// A finish without a matching start (request failed before the
	// listener saw it) must not underflow.
	n.finish("ghost")
	if got := n.Inflight(); got != 1 {
		t.Errorf("expected 1 inflight after unknown finish, got %d", got)
	}
}

func TestNetworkTracker_QuietFor(t *testing.T) {
	n := newNetworkTracker()

	if n.QuietFor(200*time.Millisecond, 0) {
		t.Error("expected not quiet immediately after creation")
	}

	time.Sleep(250 * time.Millisecond)
	if !n.QuietFor(200*time.Millisecond, 0) {
		t.Error("expected quiet after idle window")
	}

	n.start("req")
	if n.QuietFor(200*time.Millisecond, 0) {
		t.Error("expected not quiet with an open request")
	}

	time.Sleep(250 * time.Millisecond)
	if !n.QuietFor(200*time.Millisecond, 1) {
		t.Error("expected quiet with one open request under maxInflight 1")
	}
}

func TestNetworkTracker_ActivityResetsClock(t *testing.T) {
	n := newNetworkTracker()
	time.Sleep(250 * time.Millisecond)

	n.start("req")
	n.finish("req")
	if n.QuietFor(200*time.Millisecond, 0) {
		t.Error("expected finish to reset the quiet clock")
	}
}

func TestFormatRemoteObject_Nil(t *testing.T) {
	if got := formatRemoteObject(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestFormatRemoteObject_StringValue(t *testing.T) {
	obj := &runtime.RemoteObject{Value: []byte(`"hello world"`)}
	if got := formatRemoteObject(obj); got != "hello world" {
		t.Errorf("expected 'hello world', got %q", got)
	}
}

func TestFormatRemoteObject_Description(t *testing.T) {
	obj := &runtime.RemoteObject{Description: "Error: something broke"}
	if got := formatRemoteObject(obj); got != "Error: something broke" {
		t.Errorf("expected 'Error: something broke', got %q", got)
	}
}

func TestFormatRemoteObject_TypeFallback(t *testing.T) {
	obj := &runtime.RemoteObject{Type: "undefined"}
	if got := formatRemoteObject(obj); got != "undefined" {
		t.Errorf("expected 'undefined', got %q", got)
	}
}

func TestFormatException_NoDetails(t *testing.T) {
	ev := &runtime.EventExceptionThrown{}
	if got := formatException(ev); got != "uncaught exception" {
		t.Errorf("expected fallback text, got %q", got)
	}
}

func TestFormatException_TextAndDescription(t *testing.T) {
	ev := &runtime.EventExceptionThrown{
		ExceptionDetails: &runtime.ExceptionDetails{
			Text: "Uncaught",
			Exception: &runtime.RemoteObject{
				Description: "TypeError: x is not a function",
			},
		},
	}
	if got := formatException(ev); got != "Uncaught TypeError: x is not a function" {
		t.Errorf("expected combined text, got %q", got)
	}
}

func TestFormatException_EmptyDetails(t *testing.T) {
	ev := &runtime.EventExceptionThrown{ExceptionDetails: &runtime.ExceptionDetails{}}
	if got := formatException(ev); got != "uncaught exception" {
		t.Errorf("expected fallback text, got %q", got)
	}
}
