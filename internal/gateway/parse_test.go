package gateway

import "testing"

func TestParseCommandLocal(t *testing.T) {
	cmd := ParseCommand("ls -la")
	if cmd.Remote {
		t.Fatalf("expected Local, got Remote")
	}
}

func TestParseCommandRemote(t *testing.T) {
	cmd := ParseCommand(`ssh alice@host "whoami"`)
	if !cmd.Remote {
		t.Fatalf("expected Remote")
	}
	if cmd.User != "alice" || cmd.Host != "host" || cmd.Port != 22 || cmd.Command != "whoami" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandRemoteWithPort(t *testing.T) {
	cmd := ParseCommand(`ssh bob@example.com:2222 "uptime"`)
	if !cmd.Remote {
		t.Fatalf("expected Remote")
	}
	if cmd.Port != 2222 || cmd.Host != "example.com" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandUnquotedRemainderKeptVerbatim(t *testing.T) {
	// No surrounding quotes at all: Trim is a no-op, matching the naive
	// grammar (strips only leading/trailing double quotes, nothing else).
	cmd := ParseCommand(`ssh alice@host echo hi`)
	if !cmd.Remote || cmd.Command != "echo hi" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandMalformedFallsBackToLocal(t *testing.T) {
	for _, line := range []string{
		"ssh",
		"ssh noat-host somecmd",
		"ssh a@b@c cmd",
		"sshfoo user@host cmd",
	} {
		cmd := ParseCommand(line)
		if cmd.Remote {
			t.Fatalf("line %q: expected Local fallback, got Remote %+v", line, cmd)
		}
	}
}

func TestParseCommandEmbeddedQuoteNotHandled(t *testing.T) {
	// Documented grammar limitation: embedded quotes are not escaped or
	// balanced specially; every leading and trailing quote char is
	// stripped, so the embedded pair's closing quote goes with the outer one.
	cmd := ParseCommand(`ssh alice@host "echo "hi""`)
	if !cmd.Remote {
		t.Fatalf("expected Remote")
	}
	if cmd.Command != "echo \"hi" {
		t.Fatalf("naive trim result = %q", cmd.Command)
	}
}
