package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/larrykvit/loadcell-calibration/calib"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute the configured profile once and record it",
		Long: `Run homes the carriage, plays the profile from the config file, and
writes the record under dataDir/cell/<timestamp>/.  Ctrl-C cancels; the
carriage stops where it is and the partial record is kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := currentConfig()
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), c)
		},
	}
}

func runOnce(ctx context.Context, c Config) error {
	profile, forces, err := c.Profile.Build()
	if err != nil {
		return fmt.Errorf("building profile: %v", err)
	}
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validating profile: %v", err)
	}
	bench, err := buildBench(c)
	if err != nil {
		return err
	}
	// The spinner owns the terminal; the engine only gets to interrupt it
	// for warnings.
	runlog := logrus.New()
	runlog.SetLevel(logrus.WarnLevel)
	bench.Runner.Log = runlog

	rec, err := bench.Store.Begin(time.Now())
	if err != nil {
		return err
	}
	bench.Runner.SetLive(rec.Pair)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " calibrating " + c.Cell,
		SuffixAutoColon:   true,
		Message:           "starting",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	if err := spinner.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				snap := bench.Runner.Snapshot()
				msg := strings.ToLower(snap.State.String())
				if snap.Segment >= 0 {
					msg = fmt.Sprintf("%s, segment %d, %d points", msg, snap.Segment, snap.Points)
				}
				spinner.Message(msg)
			}
		}
	}()

	res, err := bench.Runner.Run(ctx, profile, forces)
	close(done)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		now := time.Now()
		rec.Commit(calib.Result{Status: calib.Aborted, Failure: err.Error(), Started: now, Finished: now})
		return err
	}
	if cerr := rec.Commit(res); cerr != nil {
		runlog.WithError(cerr).Warn("run record incomplete")
	}

	if res.Status == calib.Completed && res.Err == nil {
		spinner.StopMessage(fmt.Sprintf("completed, %d points, recorded to %s", len(res.Points), rec.Dir()))
		spinner.Stop()
	} else {
		spinner.StopFailMessage(fmt.Sprintf("%s: %s", strings.ToLower(res.Status.String()), res.Failure))
		spinner.StopFail()
	}

	if res.Tare != nil {
		fmt.Printf("tare: ref %.6g, dut %.6g over %d pairs\n", res.Tare.Ref, res.Tare.DUT, res.Tare.N)
	}
	if res.Model != nil {
		fmt.Printf("model: force = %s\n", polyString(res.Model.Coeffs))
		fmt.Printf("       valid over raw [%.6g, %.6g], rmse %.3g\n", res.Model.MinRaw, res.Model.MaxRaw, res.Model.RMSE)
	}
	if res.Err != nil {
		return fmt.Errorf("run %s: %s", strings.ToLower(res.Status.String()), res.Failure)
	}
	return nil
}

// polyString renders coefficients in ascending powers as a readable
// polynomial, e.g. "12.3 + 9.8e+05*raw".
func polyString(coeffs []float64) string {
	terms := make([]string, len(coeffs))
	for i, c := range coeffs {
		switch i {
		case 0:
			terms[i] = fmt.Sprintf("%.6g", c)
		case 1:
			terms[i] = fmt.Sprintf("%.6g*raw", c)
		default:
			terms[i] = fmt.Sprintf("%.6g*raw^%d", c, i)
		}
	}
	return strings.Join(terms, " + ")
}
