// Package ptymux owns spawned child processes and their pseudoterminals,
// exposing non-blocking byte-level I/O keyed by session id. The registry
// lock and each session's own I/O locks are independent, so a read and a
// write against the same session never serialize against each other, and
// the registry lock is never held across blocking I/O.
package ptymux

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/ehrlich-b/termgate/internal/gatewayerr"
	"github.com/ehrlich-b/termgate/internal/logger"
)

const readBufSize = 4096

// Session is a single interactive shell plus its pseudoterminal. Its
// lifecycle is: created by Spawn, mutated only through its owning Manager,
// destroyed on Close. A child that exits on its own is reaped, but its
// session stays in the registry until Close is called.
type Session struct {
	ID  uuid.UUID
	cmd *exec.Cmd
	pty *os.File

	writeMu sync.Mutex

	readMu sync.Mutex

	dimMu sync.Mutex
	rows  int
	cols  int

	closeOnce sync.Once
}

// Manager is the session registry. A single mutex protects its structure;
// it is never held across PTY I/O.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	shell    string
}

// New constructs a Manager. shell, if non-empty, is used for every Spawn
// call that doesn't supply its own override.
func New(shell string) *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		shell:    shell,
	}
}

// resolveShell implements spec.md's resolution order: explicit argument,
// $SHELL, platform candidate list, else ErrConfig.
func resolveShell(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if s := os.Getenv("SHELL"); s != "" {
		return s, nil
	}
	for _, candidate := range candidateShells {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no shell found", gatewayerr.ErrConfig)
}

// Spawn opens a pseudoterminal at the given initial dimensions, starts the
// resolved shell attached to its slave end, registers the session, and
// returns its id.
func (m *Manager) Spawn(shellOverride string, rows, cols int) (uuid.UUID, error) {
	explicit := shellOverride
	if explicit == "" {
		explicit = m.shell
	}
	shellPath, err := resolveShell(explicit)
	if err != nil {
		return uuid.Nil, err
	}

	cmd := exec.Command(shellPath)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	size := &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: start pty: %v", gatewayerr.ErrIo, err)
	}

	sess := &Session{
		ID:   uuid.New(),
		cmd:  cmd,
		pty:  ptmx,
		rows: rows,
		cols: cols,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	logger.Info("ptymux: spawned session", "session_id", sess.ID, "shell", shellPath, "rows", rows, "cols", cols)

	go m.reapOnExit(sess)

	return sess.ID, nil
}

// reapOnExit waits for the child process to exit so its resources don't
// linger as zombies; it does not remove the session from the registry —
// that remains the caller's decision via Close, per spec.md §4.1's failure
// semantics ("the session remains in the registry").
func (m *Manager) reapOnExit(sess *Session) {
	err := sess.cmd.Wait()
	if err != nil {
		logger.Debug("ptymux: child exited", "session_id", sess.ID, "err", err)
	} else {
		logger.Debug("ptymux: child exited", "session_id", sess.ID)
	}
}

func (m *Manager) lookup(id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, gatewayerr.ErrNotFound
	}
	return sess, nil
}

// Write appends bytes to the session's master, flushing before returning.
// The registry lock is released before taking the session's own write lock.
func (m *Manager) Write(id uuid.UUID, data []byte) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	if _, err := sess.pty.Write(data); err != nil {
		return fmt.Errorf("%w: %v", gatewayerr.ErrIo, err)
	}
	return nil
}

// Read returns whatever is currently available from the session, up to a
// fixed 4 KiB buffer. A 10 ms read deadline turns an otherwise-blocking
// read into an empty, error-free result. Where the master does not support
// read deadlines, SetReadDeadline's error is only logged and the read
// blocks until data arrives or the master is closed. Callers poll on a
// timer rather than holding a blocking read.
func (m *Manager) Read(id uuid.UUID) ([]byte, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.readMu.Lock()
	defer sess.readMu.Unlock()

	if err := sess.pty.SetReadDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
		// Not every platform's pty master supports deadlines; treat that as
		// a non-fatal no-op rather than failing every read.
		logger.Debug("ptymux: SetReadDeadline unsupported", "session_id", id, "err", err)
	}

	buf := make([]byte, readBufSize)
	n, err := sess.pty.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("%w: %v", gatewayerr.ErrIo, err)
	}
	return buf[:n], nil
}

// Resize forwards new window dimensions to the master.
func (m *Manager) Resize(id uuid.UUID, rows, cols int) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}

	sess.dimMu.Lock()
	defer sess.dimMu.Unlock()

	if err := pty.Setsize(sess.pty, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("%w: resize: %v", gatewayerr.ErrIo, err)
	}
	sess.rows, sess.cols = rows, cols
	return nil
}

// Close removes the session from the registry and attempts to kill its
// child, ignoring kill failures (the child may already have exited).
// Idempotent: a second call on the same id is a no-op.
func (m *Manager) Close(id uuid.UUID) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	sess.closeOnce.Do(func() {
		if sess.cmd.Process != nil {
			_ = sess.cmd.Process.Kill()
		}
		_ = sess.pty.Close()
		logger.Info("ptymux: closed session", "session_id", id)
	})
	return nil
}

// List returns a snapshot of every currently registered session id.
func (m *Manager) List() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
