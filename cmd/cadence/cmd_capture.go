package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cadence/internal/analyzer"
	"cadence/internal/capture"

	"github.com/spf13/cobra"
)

var (
	captureDuration time.Duration
	captureOut      string
	captureDevice   string
)

var captureCmd = &cobra.Command{
	Use:   "capture [url]",
	Short: "Record live browser activity as a telemetry payload",
	Long: `Opens url in an instrumented incognito page, records clicks, scrolls
and navigations for the given duration, renders them as a batch payload and
grades it. Interrupting the capture keeps whatever was collected.

The payload line appended by --out is in the corpus format scan reads.

Example:
  cadence capture https://shop.example --duration 45s --out .cadence/captures/shop.beat`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, err := configGrammar()
	if err != nil {
		return err
	}

	h := capture.NewHarness(cfg.Capture, g)
	if err := h.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := h.Shutdown(); err != nil {
			log.Printf("[cli] browser shutdown: %v", err)
		}
	}()

	res, err := h.Capture(ctx, args[0], captureDuration, captureDevice)
	if err != nil {
		return err
	}

	if captureOut != "" {
		if err := appendLine(captureOut, res.Payload); err != nil {
			return fmt.Errorf("writing %s: %w", captureOut, err)
		}
	}

	a, err := buildAnalyzer()
	if err != nil {
		return err
	}
	// A grading failure keeps the captured payload; it is already saved.
	report, err := a.AnalyzeBatch(res.Payload, "")
	if err != nil {
		log.Printf("[cli] grading capture %s failed: %v", res.ID, err)
	}

	return printJSON(struct {
		Capture *capture.Result  `json:"capture"`
		Report  *analyzer.Report `json:"report,omitempty"`
	}{Capture: res, Report: report})
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, line)
	return err
}

func init() {
	captureCmd.Flags().DurationVar(&captureDuration, "duration", 30*time.Second, "How long to record")
	captureCmd.Flags().StringVar(&captureOut, "out", "", "Append the payload line to this corpus file")
	captureCmd.Flags().StringVar(&captureDevice, "device", "chrome", "Device name stamped into the fragment")

	rootCmd.AddCommand(captureCmd)
}
