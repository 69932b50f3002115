package gateway

import (
	"strconv"
	"strings"
)

// Command is the tagged union spec.md §3 calls a "command token": either a
// Local line destined for the PTY verbatim, or a Remote directive destined
// for the pool under circuit-breaker protection.
type Command struct {
	Remote  bool
	Host    string
	Port    int
	User    string
	Command string

	// Raw is the original line (without its terminating newline) for Local
	// commands.
	Raw string
}

const sshPrefix = "ssh "

// ParseCommand classifies one complete input line. Grounded verbatim on
// original_source's parse_command/parse_ssh_command: a strict "ssh "
// prefix, a single space split between the user@host[:port] token and the
// remainder, naive leading/trailing double-quote stripping on the
// remainder, an '@' split for user/host, and an optional ':port' suffix
// defaulting to 22. This is the accepted grammar exactly as documented in
// spec.md §9's open question — no escapes, no embedded quotes, no
// single-quote handling. Anything that doesn't fit is treated as Local.
func ParseCommand(line string) Command {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, sshPrefix) {
		if cmd, ok := parseRemote(trimmed[len(sshPrefix):]); ok {
			return cmd
		}
	}

	return Command{Remote: false, Raw: line}
}

func parseRemote(rest string) (Command, bool) {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) < 2 {
		return Command{}, false
	}

	userHostPort := parts[0]
	command := strings.Trim(parts[1], `"`)

	atParts := strings.Split(userHostPort, "@")
	if len(atParts) != 2 {
		return Command{}, false
	}
	user := atParts[0]
	hostPort := atParts[1]

	host := hostPort
	port := 22
	if idx := strings.IndexByte(hostPort, ':'); idx >= 0 {
		host = hostPort[:idx]
		if p, err := strconv.Atoi(hostPort[idx+1:]); err == nil {
			port = p
		}
	}

	if user == "" || host == "" {
		return Command{}, false
	}

	return Command{Remote: true, Host: host, Port: port, User: user, Command: command}, true
}
