package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	URL string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream lock changes and counters from the daemon's websocket",
		Long: `Connect to the daemon's /ws/state endpoint and print every frame until
interrupted. Text output shows one line per frame; JSON output prints the
frames as received.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://127.0.0.1:3011/ws/state", "state websocket URL")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}

	ctx := cmd.Context()
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u, err)
	}
	defer conn.Close()

	// Closing the connection unblocks ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	out := cmd.OutOrStdout()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := printFrame(out, opts.Format, msg); err != nil {
			return err
		}
	}
}

// printFrame renders one {type, ts, data} envelope.
func printFrame(w io.Writer, format string, msg []byte) error {
	if format == "json" {
		_, err := fmt.Fprintf(w, "%s\n", bytes.TrimSpace(msg))
		return err
	}

	var env struct {
		Type string          `json:"type"`
		Ts   time.Time       `json:"ts"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return errors.New("decode frame: missing type")
	}

	_, err := fmt.Fprintf(w, "%s %-12s %s\n", env.Ts.Format("15:04:05.000"), env.Type, env.Data)
	return err
}
