// Command termgatectl is the interactive client for a termgate gateway: it
// creates a session over HTTP, attaches a websocket, and pumps the local
// terminal's stdin/stdout through it while the terminal stays in raw mode.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "termgatectl",
		Short: "attach an interactive terminal to a termgate gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return attach(cmd.Context(), addr)
		},
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:7722", "gateway base address")
	root.AddCommand(statusCmd(&addr))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// statusCmd prints per-host remote connection pool occupancy, the
// complement to the interactive session a bare termgatectl invocation opens.
func statusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show remote connection pool occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(cmd.Context(), *addr)
		},
	}
}

func printStatus(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/stats", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query gateway: %w", err)
	}
	defer resp.Body.Close()

	var entries []struct {
		Host  string `json:"host"`
		Total int    `json:"total"`
		InUse int    `json:"in_use"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("no remote connections")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-32s  %s connections, %s in use\n",
			e.Host, humanize.Comma(int64(e.Total)), humanize.Comma(int64(e.InUse)))
	}
	return nil
}

func attach(ctx context.Context, addr string) error {
	stdinFd := int(os.Stdin.Fd())
	cols, rows := 80, 24
	if isatty.IsTerminal(uintptr(stdinFd)) {
		if w, h, err := term.GetSize(stdinFd); err == nil {
			cols, rows = w, h
		}
	}

	sessionID, err := createSession(ctx, addr, rows, cols)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	wsURL := strings.Replace(addr, "http", "ws", 1) + "/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.CloseNow()

	// First frame is always the connected handshake; consume it so later
	// reads only see output/error frames.
	if _, _, err := conn.Read(ctx); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}

	var oldState *term.State
	if isatty.IsTerminal(uintptr(stdinFd)) {
		oldState, err = term.MakeRaw(stdinFd)
		if err == nil {
			defer term.Restore(stdinFd, oldState)
		}
	}

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)

	go func() {
		for range winchCh {
			if w, h, err := term.GetSize(stdinFd); err == nil {
				sendResize(ctx, conn, h, w)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpOutput(ctx, conn)
	}()

	go pumpInput(ctx, conn)

	<-done
	return nil
}

func createSession(ctx context.Context, addr string, rows, cols int) (string, error) {
	body, _ := json.Marshal(map[string]int{"rows": rows, "cols": cols})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned %s", resp.Status)
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func sendResize(ctx context.Context, conn *websocket.Conn, rows, cols int) {
	frame := map[string]any{"type": "resize", "rows": rows, "cols": cols}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, data)
}

// pumpOutput decodes output/error frames from the gateway onto stdout until
// the socket closes.
func pumpOutput(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var env struct {
			Type    string `json:"type"`
			Data    string `json:"data"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		switch env.Type {
		case "output":
			decoded, err := base64.StdEncoding.DecodeString(env.Data)
			if err == nil {
				os.Stdout.Write(decoded)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "\r\n[termgatectl] gateway error: %s\r\n", env.Message)
		}
	}
}

// pumpInput copies raw stdin bytes into input frames until stdin is closed
// or the context is cancelled.
func pumpInput(ctx context.Context, conn *websocket.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			frame := map[string]any{
				"type": "input",
				"data": base64.StdEncoding.EncodeToString(buf[:n]),
			}
			data, merr := json.Marshal(frame)
			if merr == nil {
				if werr := conn.Write(ctx, websocket.MessageText, data); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}
