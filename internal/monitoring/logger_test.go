package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	// Save original logger
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Now set to nil and verify it doesn't call our logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestStreams(t *testing.T) {
	s := NewStreams("[linop] ")

	// Muted streams must not panic.
	s.Opsf("dropped %d", 1)
	s.Diagf("dropped %d", 2)
	s.Tracef("dropped %d", 3)

	var ops, diag bytes.Buffer
	s.SetWriters(&ops, &diag, nil)
	s.Opsf("ops %s", "line")
	s.Diagf("diag %s", "line")
	s.Tracef("trace %s", "line")

	if !strings.Contains(ops.String(), "[linop] ops line") {
		t.Errorf("ops stream = %q", ops.String())
	}
	if !strings.Contains(diag.String(), "[linop] diag line") {
		t.Errorf("diag stream = %q", diag.String())
	}
	if strings.Contains(ops.String(), "diag") || strings.Contains(diag.String(), "ops") {
		t.Error("streams leaked into each other")
	}
}
