package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/selector"
	"github.com/damian-maker/IA-KICK/internal/session"
)

type processFlags struct {
	url           string
	startMinute   float64
	endMinute     float64
	maxAudioClips int
	maxVideoClips int
	types         string
	generateClips bool
	jsonOutput    bool
}

func newProcessCmd(opts *options) *cobra.Command {
	var f processFlags

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Analyse one stream or video and print its highlights",
		Example: `  kickclip process --url https://kick.com/video/0b7c5d4e-...
  kickclip process --url https://kick.com/somechannel --end-minute 30 --type audio
  kickclip process --url ./stream.mp4 --generate-clips --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.runRequest(cmd)
			if err != nil {
				return err
			}
			return runProcess(cmd, opts, req, f.jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&f.url, "url", "u", "", "Kick VOD/channel URL, direct media URL or local file (required)")
	cmd.Flags().Float64Var(&f.startMinute, "start-minute", 0, "Start of the analysis window in minutes")
	cmd.Flags().Float64Var(&f.endMinute, "end-minute", 0, "End of the analysis window in minutes (default: whole stream)")
	cmd.Flags().IntVar(&f.maxAudioClips, "max-audio-clips", 0, "Maximum audio highlights (default from config, capped at 25)")
	cmd.Flags().IntVar(&f.maxVideoClips, "max-video-clips", 0, "Maximum video highlights (default from config, capped at 25)")
	cmd.Flags().StringVarP(&f.types, "type", "t", ledger.TypesBoth, "Modalities to analyse: audio, video or both")
	cmd.Flags().BoolVar(&f.generateClips, "generate-clips", false, "Cut clip files for the highlights and register them for rating")
	cmd.Flags().BoolVarP(&f.jsonOutput, "json", "j", false, "Output the run result as JSON")
	cmd.MarkFlagRequired("url")

	return cmd
}

// runRequest validates the flags into a queued-run request.
func (f *processFlags) runRequest(cmd *cobra.Command) (ledger.RunRequest, error) {
	req := ledger.RunRequest{
		SourceURL:     f.url,
		MaxAudioClips: f.maxAudioClips,
		MaxVideoClips: f.maxVideoClips,
		Types:         f.types,
		GenerateClips: f.generateClips,
	}
	if f.url == "" {
		return req, fmt.Errorf("--url is required")
	}
	switch f.types {
	case ledger.TypesAudio, ledger.TypesVideo, ledger.TypesBoth:
	default:
		return req, fmt.Errorf("--type must be audio, video or both, got %q", f.types)
	}
	if f.maxAudioClips < 0 || f.maxVideoClips < 0 {
		return req, fmt.Errorf("clip limits must not be negative")
	}
	if cmd.Flags().Changed("start-minute") {
		v := f.startMinute
		req.StartMinute = &v
	}
	if cmd.Flags().Changed("end-minute") {
		v := f.endMinute
		req.EndMinute = &v
	}
	return req, nil
}

func runProcess(cmd *cobra.Command, opts *options, req ledger.RunRequest, jsonOutput bool) error {
	app, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	errOut := cmd.ErrOrStderr()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(errOut, "stopping after the current chunk (interrupt again to abort)")
		app.Session.Stop()
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	run, err := app.Ledger.CreateRun(ctx, req)
	if err != nil {
		return err
	}

	res, err := app.Runner.Execute(ctx, run)
	if err != nil {
		return fmt.Errorf("run %s failed: %w", run.ID, err)
	}

	done, err := app.Ledger.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), struct {
			Run    *ledger.Run     `json:"run"`
			Result *session.Result `json:"result"`
		}{done, res})
	}
	printResult(cmd.OutOrStdout(), done, res)
	return nil
}

func printResult(w io.Writer, run *ledger.Run, res *session.Result) {
	status := "completed"
	if res.Stopped {
		status = "stopped early"
	}
	fmt.Fprintf(w, "Run %s %s\n", run.ID, status)
	fmt.Fprintf(w, "  Video ID:  %s\n", res.VideoID)
	fmt.Fprintf(w, "  Window:    %s - %s of %s\n",
		formatClock(res.Window.Start), formatClock(res.Window.End), formatClock(res.Duration))
	fmt.Fprintf(w, "  Chunks:    %s processed, %s skipped\n",
		humanize.Comma(int64(res.ChunksProcessed)), humanize.Comma(int64(res.ChunksSkipped)))
	if run.ReportPath != "" {
		fmt.Fprintf(w, "  Report:    %s\n", run.ReportPath)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  Warning:   %s\n", warn)
	}
	printSkipped(w, res.Skipped)

	printHighlights(w, "Audio highlights", res.Audio)
	printHighlights(w, "Video highlights", res.Video)
}

// maxSkippedShown bounds the skip reasons listed in text output; JSON output
// carries all of them.
const maxSkippedShown = 5

func printSkipped(w io.Writer, skipped []session.SkipReason) {
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintln(w, "  Skipped:")
	for i, sk := range skipped {
		if i == maxSkippedShown {
			fmt.Fprintf(w, "    ... and %d more\n", len(skipped)-maxSkippedShown)
			break
		}
		what := "chunk"
		if sk.Modality != "" {
			what = string(sk.Modality)
		}
		fmt.Fprintf(w, "    chunk %d at %s  %-5s %s\n", sk.ChunkIndex, formatClock(sk.Start), what, sk.Reason)
	}
}

func printHighlights(w io.Writer, title string, hs []selector.Highlight) {
	if len(hs) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s (%d):\n", title, len(hs))
	for _, h := range hs {
		fmt.Fprintf(w, "  #%-2d %s  score %.3f  (%s)\n", h.Rank, formatClock(h.Start), h.Score, h.Strategy)
	}
}

// formatClock renders seconds as h:mm:ss.
func formatClock(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	s := int(sec)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
