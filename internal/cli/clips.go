package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/media"
)

func newRateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <clip-id> <rating>",
		Short: "Rate a generated clip from 1 (boring) to 5 (great)",
		Example: `  kickclip rate 12 5
  kickclip rate 13 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid clip id %q", args[0])
			}
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rating %q: %w", args[1], ledger.ErrInvalidRating)
			}
			if rating < ledger.MinRating || rating > ledger.MaxRating {
				return fmt.Errorf("invalid rating %d: %w", rating, ledger.ErrInvalidRating)
			}
			return runRate(cmd, opts, id, rating)
		},
	}
}

func runRate(cmd *cobra.Command, opts *options, id int64, rating int) error {
	app, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Ledger.Rate(cmd.Context(), id, rating)
	if errors.Is(err, ledger.ErrClipNotFound) {
		return fmt.Errorf("clip %d not found", id)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Rated clip %d: %d/5\n", res.ClipID, res.Rating)
	if res.RetrainTriggered {
		printTrainReport(out, res.Report)
	}
	return nil
}

func newTrainCmd(opts *options) *cobra.Command {
	var minSamples int

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the scoring models from rated clips",
		Example: `  kickclip train
  kickclip train --min-samples 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if minSamples < 0 {
				return fmt.Errorf("--min-samples must not be negative")
			}
			app, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Ledger.TrainFromRatings(cmd.Context(), minSamples)
			if err != nil {
				return err
			}
			printTrainReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().IntVarP(&minSamples, "min-samples", "m", 0, "Minimum rated clips per modality (default from config)")
	return cmd
}

func printTrainReport(w io.Writer, report *ledger.TrainReport) {
	if report == nil || len(report.Results) == 0 {
		fmt.Fprintln(w, "Nothing to train.")
		return
	}
	for _, r := range report.Results {
		switch {
		case r.Trained:
			fmt.Fprintf(w, "  %-5s trained on %d samples\n", r.Modality, r.Samples)
		case r.Error != "":
			fmt.Fprintf(w, "  %-5s skipped: %s\n", r.Modality, r.Error)
		default:
			fmt.Fprintf(w, "  %-5s skipped (%d samples)\n", r.Modality, r.Samples)
		}
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show clip, rating and model statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.Ledger.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

func printStats(w io.Writer, s *ledger.Statistics) {
	fmt.Fprintf(w, "Clips:          %s (%s rated, %s unrated)\n",
		humanize.Comma(int64(s.TotalClips)), humanize.Comma(int64(s.RatedClips)), humanize.Comma(int64(s.UnratedClips)))
	if s.RatedClips > 0 {
		fmt.Fprintf(w, "Average rating: %.2f\n", s.AverageRating)
		fmt.Fprint(w, "Distribution:  ")
		for r := ledger.MinRating; r <= ledger.MaxRating; r++ {
			fmt.Fprintf(w, " %d:%d", r, s.RatingDistribution[r])
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Rating events:  %s\n", humanize.Comma(s.RatingEvents))

	for _, m := range features.Modalities {
		ms, ok := s.Modalities[m]
		if !ok {
			continue
		}
		model := "heuristic only"
		if ms.ModelTrained {
			model = fmt.Sprintf("trained on %d samples (%s)", ms.ModelSamples, ms.ModelOrigin)
		}
		fmt.Fprintf(w, "%-5s           %d clips, %d rated, model %s\n", m, ms.Clips, ms.Rated, model)
	}
	if s.ReadyForTraining {
		fmt.Fprintln(w, "Enough ratings to train: run 'kickclip train'.")
	}
}

func newClipsCmd(opts *options) *cobra.Command {
	var (
		unrated  bool
		rated    bool
		clipType string
		runID    string
		limit    int
	)

	cmd := &cobra.Command{
		Use:     "clips",
		Aliases: []string{"ls"},
		Short:   "List generated clips",
		Example: `  kickclip clips
  kickclip clips --unrated --type audio
  kickclip clips --run 0f3c2a9e-... --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rated && unrated {
				return fmt.Errorf("--rated and --unrated are mutually exclusive")
			}
			filter := ledger.ClipFilter{
				RatedOnly:   rated,
				UnratedOnly: unrated,
				RunID:       runID,
				Limit:       limit,
			}
			if clipType != "" {
				m, err := features.ParseModality(clipType)
				if err != nil {
					return err
				}
				filter.Modality = m
			}

			app, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			clips, err := app.Ledger.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printClips(cmd.OutOrStdout(), clips)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&unrated, "unrated", "u", false, "Only clips without a rating")
	cmd.Flags().BoolVarP(&rated, "rated", "r", false, "Only rated clips")
	cmd.Flags().StringVarP(&clipType, "type", "t", "", "Only clips of this type (audio or video)")
	cmd.Flags().StringVar(&runID, "run", "", "Only clips produced by this run")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum clips to show")

	return cmd
}

func printClips(w io.Writer, clips []*ledger.ClipRecord) {
	if len(clips) == 0 {
		fmt.Fprintln(w, "No clips found.")
		return
	}

	fmt.Fprintf(w, "Clips (%d):\n\n", len(clips))
	for _, c := range clips {
		rating := "-"
		if c.Rating != nil {
			rating = fmt.Sprintf("%d/5", *c.Rating)
		}
		fmt.Fprintf(w, "  #%-4d %-5s %s  score %.3f  rating %s\n",
			c.ID, c.Modality, formatClock(c.Start), c.Score, rating)
		fmt.Fprintf(w, "        %s (%s, created %s)\n",
			filepath.Base(c.Filepath), fileSize(c.Filepath), humanize.Time(c.CreatedAt))
	}
}

func newCleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Forget clips whose files were deleted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.Ledger.CleanupOrphans(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d orphaned clip record(s).\n", removed)
			return nil
		},
	}
}

func newDoctorCmd(opts *options) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that ffmpeg and ffprobe are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			caps := app.Doctor.Refresh(cmd.Context())
			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, caps); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "  ffmpeg   %s\n", toolLine(caps.FFmpeg))
				fmt.Fprintf(out, "  ffprobe  %s\n", toolLine(caps.FFprobe))
			}
			if !caps.OK() {
				return fmt.Errorf("media toolchain incomplete")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

func toolLine(t media.ToolInfo) string {
	if t.Available {
		return "ok " + t.Version
	}
	return "missing: " + t.Error
}

// fileSize reports a clip file's size, or "missing" when it is gone.
func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return humanize.Bytes(uint64(info.Size()))
}
