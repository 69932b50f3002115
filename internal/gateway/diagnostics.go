package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ehrlich-b/termgate/internal/gatewayerr"
)

// Diagnostic strings injected into the PTY transcript for remote-directive
// results, per spec.md §7 ("remote failures are rendered as short
// human-readable strings... prefixed to identify the host and cause").
// Formats are grounded on original_source's process_command/
// handle_ssh_command, which writes exactly these lines into the PTY.

func echoDirective(cmd Command) string {
	return fmt.Sprintf("ssh %s@%s:%d \"%s\"\r\n", cmd.User, cmd.Host, cmd.Port, cmd.Command)
}

func connectingStatus(host string) string {
	return fmt.Sprintf("[ssh %s] connecting...\r\n", host)
}

func breakerOpenDiagnostic(host string, retryIn string) string {
	return fmt.Sprintf("[circuit] host %s open — failing fast\r\n[circuit] will retry in %s\r\n", host, retryIn)
}

func successDiagnostic(host, output string) string {
	return fmt.Sprintf("[ssh %s] %s\r\n", host, strings.TrimRight(output, "\r\n"))
}

// translateError renders a terminal, technical error into the human
// readable form the client actually sees — technical codes never reach the
// client as bare text (spec.md §2.3/§7).
func translateError(host string, err error) string {
	switch {
	case errors.Is(err, gatewayerr.ErrBreakerOpen):
		return breakerOpenDiagnostic(host, "60 seconds")
	case errors.Is(err, gatewayerr.ErrRemoteTimeout):
		return fmt.Sprintf("[ssh %s] Error: command timed out\r\n", host)
	case errors.Is(err, gatewayerr.ErrPoolFull):
		return fmt.Sprintf("[ssh %s] Error: connection pool exhausted\r\n", host)
	default:
		if exitErr, ok := gatewayerr.AsNonZeroExit(err); ok {
			return fmt.Sprintf("[ssh %s] Error: command exited with status %d\r\n", host, exitErr.Code)
		}
		return fmt.Sprintf("[ssh %s] Error: %v\r\n", host, err)
	}
}

func truncatedDiagnostic(host string, maxBytes int64) string {
	return fmt.Sprintf("[ssh %s] output truncated at %d bytes\r\n", host, maxBytes)
}
