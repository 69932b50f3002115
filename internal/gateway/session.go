package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/termgate/internal/gatewayerr"
	"github.com/ehrlich-b/termgate/internal/logger"
	"github.com/ehrlich-b/termgate/internal/sshpool"
)

// parseSessionID parses the path-carried session id, returning uuid.Nil on
// a malformed id; a subsequent PTY operation will then fail with
// gatewayerr.ErrNotFound, which is the behavior an unparseable id should
// have anyway.
func parseSessionID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

// connection owns one client socket and one PTY session id for its
// lifetime: handshake, concurrent reader-pump/writer-pump, teardown.
type connection struct {
	gw   *Gateway
	conn *websocket.Conn
	id   string

	lineBuf strings.Builder
}

func (g *Gateway) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Warn("gateway: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &connection{gw: g, conn: conn, id: id}
	c.run(r.Context())
}

// run implements spec.md §4.4's lifecycle: handshake, spawn the two pumps
// joined by an errgroup (first pump to return, with or without an error,
// cancels the shared context and the other unwinds), then teardown.
func (c *connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.writeJSON(ctx, ConnectedFrame{Type: TypeConnected, SessionID: c.id}); err != nil {
		logger.Warn("gateway: handshake write failed", "session_id", c.id, "err", err)
		return
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { defer cancel(); return c.readerPump(gctx) })
	group.Go(func() error { defer cancel(); return c.writerPump(gctx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("gateway: session pumps ended", "session_id", c.id, "err", err)
	}

	if err := c.gw.PTY.Close(parseSessionID(c.id)); err != nil {
		logger.Warn("gateway: teardown close failed", "session_id", c.id, "err", err)
	}
}

// readerPump polls the PTY on a fixed interval and forwards non-empty reads
// to the client as output frames (spec.md §4.4 step 2, reader-pump).
func (c *connection) readerPump(ctx context.Context) error {
	ticker := time.NewTicker(c.gw.readerPollInterval())
	defer ticker.Stop()

	sid := parseSessionID(c.id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			data, err := c.gw.PTY.Read(sid)
			if err != nil {
				_ = c.writeJSON(ctx, ErrorFrame{Type: TypeError, Message: err.Error()})
				return err
			}
			if len(data) == 0 {
				continue
			}
			frame := OutputFrame{Type: TypeOutput, Data: base64.StdEncoding.EncodeToString(data)}
			if err := c.writeJSON(ctx, frame); err != nil {
				return err
			}
		}
	}
}

// writerPump receives framed client messages and routes them: input bytes
// are accumulated into a per-session line buffer (spec.md §4.4 step 2,
// writer-pump / "Input routing"), resize frames forward directly.
func (c *connection) writerPump(ctx context.Context) error {
	sid := parseSessionID(c.id)

	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			return nil
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Debug("gateway: discarding malformed frame", "session_id", c.id, "err", fmt.Errorf("%w: %v", gatewayerr.ErrDecode, err))
			continue
		}

		switch env.Type {
		case TypeInput:
			var f InputFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				logger.Debug("gateway: discarding malformed input frame", "session_id", c.id, "err", fmt.Errorf("%w: %v", gatewayerr.ErrDecode, err))
				continue
			}
			if err := c.handleInput(ctx, sid, f.Data); err != nil {
				return err
			}
		case TypeResize:
			var f ResizeFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				logger.Debug("gateway: discarding malformed resize frame", "session_id", c.id, "err", fmt.Errorf("%w: %v", gatewayerr.ErrDecode, err))
				continue
			}
			// Clamp rather than reject: a 0 or absurdly large dimension from
			// a buggy client still shouldn't be passed through to pty.Setsize
			// (spec.md §8 boundary), but it also shouldn't end the session.
			rows, cols := clampDimension(f.Rows), clampDimension(f.Cols)
			if err := c.gw.PTY.Resize(sid, rows, cols); err != nil {
				// Open question resolved: resize on an unknown/torn-down
				// session is logged, not fatal (spec.md §9).
				logger.Warn("gateway: resize failed", "session_id", c.id, "err", err)
			}
		default:
			logger.Debug("gateway: unknown frame type", "session_id", c.id, "type", env.Type)
		}
	}
}

func (c *connection) handleInput(ctx context.Context, sid uuid.UUID, data string) error {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		logger.Debug("gateway: discarding bad base64 input", "session_id", c.id, "err", fmt.Errorf("%w: %v", gatewayerr.ErrDecode, err))
		return nil
	}
	if len(decoded) == 0 {
		return nil
	}

	c.lineBuf.Write(decoded)
	buffered := c.lineBuf.String()

	lines, tail := splitCompleteLines(buffered)

	if len(lines) == 0 {
		// No complete line yet: forward immediately so interactive echo
		// (passwords, editors in raw mode) keeps working, per spec.md §9.
		if err := c.gw.PTY.Write(sid, decoded); err != nil {
			return err
		}
		return nil
	}

	// The trailing fragment is only buffered here, not written to the PTY;
	// its bytes reach the PTY once it completes into a dispatched line.
	// Writing it here as well would put it on the slave's stdin twice once
	// that line is dispatched. Bytes that an earlier frame already forwarded
	// through the no-complete-line branch above are not tracked: they are
	// written again as part of the dispatched line.
	c.lineBuf.Reset()
	c.lineBuf.WriteString(tail)

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := c.dispatch(ctx, sid, line); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) dispatch(ctx context.Context, sid uuid.UUID, line string) error {
	cmd := ParseCommand(line)

	if !cmd.Remote {
		return c.gw.PTY.Write(sid, []byte(cmd.Raw+"\n"))
	}

	if err := c.gw.PTY.Write(sid, []byte(echoDirective(cmd))); err != nil {
		return err
	}
	if err := c.gw.PTY.Write(sid, []byte(connectingStatus(cmd.Host))); err != nil {
		return err
	}

	b := c.gw.Breakers.Get(cmd.Host)
	key := sshpool.HostKey{Host: cmd.Host, Port: cmd.Port, User: cmd.User}

	var output string
	callErr := b.Call(ctx, func(ctx context.Context) error {
		lease, err := c.gw.Pool.Acquire(ctx, key, c.gw.sshKeyPath())
		if err != nil {
			return err
		}
		defer lease.Release()

		out, err := lease.ExecWithTimeout(ctx, cmd.Command, c.gw.remoteExecTimeout())
		if err != nil {
			return err
		}
		output = out
		return nil
	})

	var diag string
	if callErr != nil {
		diag = translateError(cmd.Host, callErr)
	} else {
		diag = successDiagnostic(cmd.Host, truncate(output, c.gw.maxStreamedOutputBytes(), cmd.Host))
	}
	return c.gw.PTY.Write(sid, []byte(diag))
}

// truncate caps output at maxBytes, appending an explicit diagnostic rather
// than buffering unboundedly (spec.md §8 boundary).
func truncate(output string, maxBytes int64, host string) string {
	if maxBytes <= 0 || int64(len(output)) <= maxBytes {
		return output
	}
	return output[:maxBytes] + "\r\n" + truncatedDiagnostic(host, maxBytes)
}

// minDimension/maxDimension bound a terminal's rows/cols to values
// pty.Setsize and every real terminal agree are sane; anything outside this
// range is a malformed or hostile resize frame, not a legitimate size.
const (
	minDimension = 1
	maxDimension = 1000
)

func clampDimension(v uint16) int {
	switch {
	case v < minDimension:
		return minDimension
	case v > maxDimension:
		return maxDimension
	default:
		return int(v)
	}
}

// splitCompleteLines splits buf on newlines, returning every complete line
// (the delimiter itself dropped) and whatever trailing fragment follows the
// last newline. An empty tail means buf ended exactly on a newline; no
// newline at all yields zero complete lines and the whole buffer as tail.
func splitCompleteLines(buf string) (lines []string, tail string) {
	if !strings.Contains(buf, "\n") {
		return nil, buf
	}
	parts := strings.Split(buf, "\n")
	return parts[:len(parts)-1], parts[len(parts)-1]
}

func (c *connection) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

