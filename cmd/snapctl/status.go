package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"scrollsnap/pipeline"
)

// daemonStatus is the subset of the daemon's status reply that the text view
// renders. JSON output passes the reply through untouched.
type daemonStatus struct {
	Version  string `json:"version"`
	UptimeMS int64  `json:"uptime_ms"`
	Config   struct {
		XThreshold      string `json:"x_threshold"`
		YThreshold      string `json:"y_threshold"`
		XYThreshold     string `json:"xy_threshold"`
		RequireNSamples int    `json:"require_n_samples"`
	} `json:"config"`
	Engines []struct {
		Device              string `json:"device"`
		SampleCount         int    `json:"sample_count"`
		LockDirection       string `json:"lock_direction"`
		LockExpiresAtMS     int64  `json:"lock_expires_at_ms"`
		LockEventsRemaining uint16 `json:"lock_events_remaining"`
	} `json:"engines"`
	Stats         pipeline.Stats `json:"stats"`
	FramesWritten uint64         `json:"frames_written"`
	Reloads       uint64         `json:"reloads"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon configuration, engine state and counters",
		Args:  cobra.NoArgs,
		Example: `  snapctl status
  snapctl status --format json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := sendRequest(cmd.Context(), rootOpts.Socket, "status")
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), rootOpts.Format, data)
		},
	}
}

func writeStatus(w io.Writer, format string, data json.RawMessage) error {
	if format == "json" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return fmt.Errorf("format status: %w", err)
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	}

	var st daemonStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "version:\t%s\n", st.Version)
	fmt.Fprintf(tw, "uptime:\t%dms\n", st.UptimeMS)
	fmt.Fprintf(tw, "thresholds:\tx=%s y=%s xy=%s\n", st.Config.XThreshold, st.Config.YThreshold, st.Config.XYThreshold)
	for _, e := range st.Engines {
		lock := e.LockDirection
		switch {
		case lock == "none":
		case e.LockEventsRemaining > 0:
			lock = fmt.Sprintf("%s (%d events left)", lock, e.LockEventsRemaining)
		case e.LockExpiresAtMS > 0:
			lock = fmt.Sprintf("%s (until %dms)", lock, e.LockExpiresAtMS)
		}
		fmt.Fprintf(tw, "%s:\tsamples %d/%d, lock %s\n", e.Device, e.SampleCount, st.Config.RequireNSamples, lock)
	}
	fmt.Fprintf(tw, "events:\tpassed=%d rewritten=%d suppressed=%d\n", st.Stats.Passed, st.Stats.Rewritten, st.Stats.Suppressed)
	fmt.Fprintf(tw, "frames:\t%d\n", st.FramesWritten)
	fmt.Fprintf(tw, "reloads:\t%d\n", st.Reloads)
	return tw.Flush()
}
