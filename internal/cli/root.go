package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/damian-maker/IA-KICK/internal/config"
)

// NewRootCmd assembles the kickclip command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "kickclip",
		Short: "Find and cut highlights from Kick streams, and learn from your ratings",
		Long: `kickclip analyses a Kick VOD, live stream or local video in overlapping
chunks, scores every chunk for audio and video excitement, and cuts the best
moments into clips. Ratings of those clips train a per-modality model that is
blended with the heuristic score on later runs.

Configuration comes from ~/.kickclip/config.yaml and KICKCLIP_* environment
variables.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", config.Version, config.GitCommit, config.BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newProcessCmd(opts))
	root.AddCommand(newRateCmd(opts))
	root.AddCommand(newTrainCmd(opts))
	root.AddCommand(newStatsCmd(opts))
	root.AddCommand(newClipsCmd(opts))
	root.AddCommand(newCleanupCmd(opts))
	root.AddCommand(newDoctorCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

// openApp opens the App with command-local log output.
func openApp(cmd *cobra.Command, opts *options) (*App, error) {
	o := *opts
	if o.logOut == nil {
		o.logOut = cmd.ErrOrStderr()
	}
	return Open(o)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version:  %s\n", config.Version)
			fmt.Fprintf(out, "Commit:   %s\n", config.GitCommit)
			fmt.Fprintf(out, "Built:    %s\n", config.BuildTime)
			return nil
		},
	}
}
