package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"scrollsnap/snap"
	"scrollsnap/trace"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Debug bool
}

// ReplayStep is one row of replay output.
type ReplayStep struct {
	AtMS   int64  `json:"at_ms"`
	Axis   string `json:"axis"`
	Value  int32  `json:"value"`
	Action string `json:"action"`
	Out    *int32 `json:"out"` // nil when the event was suppressed
	Lock   string `json:"lock"`
}

// ReplayResult holds the replay of a single trace file.
type ReplayResult struct {
	Name  string       `json:"name"`
	Steps []ReplayStep `json:"steps"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Run recorded scroll traces through the snap engine",
		Long: `Replay feeds each trace file's events through a fresh snap engine
configured from the file's config section and prints what the engine did
with every event. No daemon is needed.

Examples:
  snapctl replay swipe.yaml
  snapctl replay --format json a.yaml b.yaml`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "log engine decisions to stderr")

	return cmd
}

func runReplay(cmd *cobra.Command, opts *ReplayOptions, paths []string) error {
	level := slog.LevelWarn
	if opts.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	results := make([]ReplayResult, 0, len(paths))
	for _, path := range paths {
		tr, err := trace.Load(path)
		if err != nil {
			return err
		}
		steps, err := tr.Replay(logger.With("trace", tr.Name))
		if err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
		results = append(results, toReplayResult(tr.Name, steps))
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if err := writeReplayTable(out, res); err != nil {
			return err
		}
	}
	return nil
}

func toReplayResult(name string, steps []trace.Step) ReplayResult {
	res := ReplayResult{Name: name, Steps: make([]ReplayStep, 0, len(steps))}
	for _, s := range steps {
		rs := ReplayStep{
			AtMS:   s.Event.AtMS,
			Axis:   s.Event.Axis,
			Value:  s.Event.Value,
			Action: s.Action.String(),
			Lock:   s.Lock.String(),
		}
		switch s.Action {
		case snap.Rewrite:
			v := s.Value
			rs.Out = &v
		case snap.Pass:
			v := s.Event.Value
			rs.Out = &v
		}
		res.Steps = append(res.Steps, rs)
	}
	return res
}

func writeReplayTable(w io.Writer, res ReplayResult) error {
	fmt.Fprintf(w, "# %s\n", res.Name)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT_MS\tAXIS\tIN\tACTION\tOUT\tLOCK")
	for _, s := range res.Steps {
		out := "-"
		if s.Out != nil {
			out = strconv.FormatInt(int64(*s.Out), 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", s.AtMS, s.Axis, s.Value, s.Action, out, s.Lock)
	}
	return tw.Flush()
}
