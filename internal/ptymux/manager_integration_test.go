//go:build integration

package ptymux

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// These tests spawn a real local shell and are gated behind the
// "integration" build tag (they need a working pty/shell on the host,
// unlike the unit tests that exercise registry bookkeeping against fakes).

func readUntil(t *testing.T, m *Manager, id uuid.UUID, want string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var got strings.Builder
	for time.Now().Before(deadline) {
		out, err := m.Read(id)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got.Write(out)
		if strings.Contains(got.String(), want) {
			return got.String()
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, got %q", want, got.String())
	return ""
}

func TestSpawnWriteReadLocalEcho(t *testing.T) {
	m := New("")
	id, err := m.Spawn("/bin/sh", 24, 80)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer m.Close(id)

	if err := m.Write(id, []byte("echo hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := readUntil(t, m, id, "hello", 2*time.Second)
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected output to contain hello, got %q", out)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := New("")
	id, err := m.Spawn("/bin/sh", 24, 80)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := m.Close(id); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := m.Close(id); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	for _, sid := range m.List() {
		if sid == id {
			t.Fatalf("closed session still listed")
		}
	}
}
