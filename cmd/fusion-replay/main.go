// Command fusion-replay runs a recorded multi-sensor scenario through the
// tracking core and reports the confirmed tracks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/trackfusion/internal/config"
	"github.com/banshee-data/trackfusion/internal/fusion/pipeline"
	"github.com/banshee-data/trackfusion/internal/fusion/storage/sqlite"
	"github.com/banshee-data/trackfusion/internal/fusion/tracks"
	"github.com/banshee-data/trackfusion/internal/monitoring"
	"github.com/banshee-data/trackfusion/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	inputPath  string
	dbPath     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "fusion-replay",
		Short: "Replay a sensor scenario through the multi-object tracker",
		Long: `fusion-replay feeds a recorded scenario (sensors plus frames of
detections) through the Kalman tracker, frame by frame, and prints the
confirmed tracks at the end.

Examples:
  fusion-replay --input drive.json
  fusion-replay --input drive.json --config tuning.json --db runs.db -v`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return replay(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "tuning JSON file (built-in defaults when empty)")
	cmd.Flags().StringVar(&opts.inputPath, "input", "", "scenario JSON file")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite file to record the run to (disabled when empty)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every tracking event")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func replay(ctx context.Context, opts options, out, errOut io.Writer) error {
	cfg := config.DefaultTuningConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadTuningConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	sc, err := LoadScenario(opts.inputPath)
	if err != nil {
		return err
	}
	byName, err := sc.BuildSensors(cfg)
	if err != nil {
		return err
	}

	monitoring.SetOutput(errOut)
	var obs tracks.Observer = monitoring.LogfObserver{}
	if opts.verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()
		obs = monitoring.NewZapObserver(logger.Sugar())
		pipeline.SetLogWriters(errOut, errOut, nil)
	} else {
		pipeline.SetLogWriters(errOut, nil, nil)
	}

	start := time.Now().UTC()
	if sc.Start != nil {
		start = *sc.Start
	}

	fopts := []pipeline.Option{pipeline.WithObserver(obs)}
	var (
		db    *sqlite.DB
		runID string
	)
	if opts.dbPath != "" {
		db, err = sqlite.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode tuning: %w", err)
		}
		runID, err = db.StartRun(string(cfgJSON), start)
		if err != nil {
			return err
		}
		fopts = append(fopts, pipeline.WithRecorder(db.Recorder(runID)))
	}

	fuser, err := pipeline.New(cfg, fopts...)
	if err != nil {
		return err
	}

	for _, fs := range sc.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		fr, err := BuildFrame(fs, byName, start, cfg.GetDT())
		if err != nil {
			return err
		}
		if _, err := fuser.ProcessFrame(fr); err != nil {
			return err
		}
	}

	if db != nil {
		if err := db.FinishRun(runID, time.Now().UTC()); err != nil {
			return err
		}
	}
	return writeSummary(out, fuser, runID)
}

func writeSummary(out io.Writer, f *pipeline.Fuser, runID string) error {
	stats := f.Stats()
	fmt.Fprintf(out, "frames: %d\n", f.Frames())
	if runID != "" {
		fmt.Fprintf(out, "run: %s\n", runID)
	}
	fmt.Fprintf(out, "tracks created: %d, confirmed: %d, deleted: %d (fragmentation %.2f)\n",
		stats.Created, stats.Confirmed, stats.Deleted, stats.FragmentationRatio())

	confirmed := f.ConfirmedTracks()
	fmt.Fprintf(out, "confirmed tracks: %d\n", len(confirmed))
	if len(confirmed) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCORE\tX\tY\tZ\tSPEED\tCLASS")
	for _, s := range confirmed {
		speed := 0.0
		for _, v := range s.X[3:] {
			speed += v * v
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			s.ID, s.Score, s.X[0], s.X[1], s.X[2], math.Sqrt(speed), s.Attributes.Class)
	}
	return tw.Flush()
}
