package ptymux

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ehrlich-b/termgate/internal/gatewayerr"
)

func TestResolveShellExplicitWins(t *testing.T) {
	shell, err := resolveShell("/custom/shell")
	if err != nil {
		t.Fatalf("resolveShell: %v", err)
	}
	if shell != "/custom/shell" {
		t.Fatalf("shell = %q, want /custom/shell", shell)
	}
}

func TestResolveShellEnv(t *testing.T) {
	t.Setenv("SHELL", "/opt/weird/shell")
	shell, err := resolveShell("")
	if err != nil {
		t.Fatalf("resolveShell: %v", err)
	}
	if shell != "/opt/weird/shell" {
		t.Fatalf("shell = %q, want $SHELL value", shell)
	}
}

func TestOperationsOnUnknownSessionReturnNotFound(t *testing.T) {
	m := New("")
	unknown := uuid.New()

	if err := m.Write(unknown, []byte("x")); !errors.Is(err, gatewayerr.ErrNotFound) {
		t.Fatalf("Write on unknown session = %v, want ErrNotFound", err)
	}
	if _, err := m.Read(unknown); !errors.Is(err, gatewayerr.ErrNotFound) {
		t.Fatalf("Read on unknown session = %v, want ErrNotFound", err)
	}
	if err := m.Resize(unknown, 24, 80); !errors.Is(err, gatewayerr.ErrNotFound) {
		t.Fatalf("Resize on unknown session = %v, want ErrNotFound", err)
	}
	if err := m.Close(unknown); err != nil {
		t.Fatalf("Close on unknown session should be a no-op, got %v", err)
	}
}

func TestListOnEmptyManager(t *testing.T) {
	m := New("")
	if got := m.List(); len(got) != 0 {
		t.Fatalf("List() = %v, want empty", got)
	}
}
