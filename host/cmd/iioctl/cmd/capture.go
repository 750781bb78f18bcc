package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"iioboard/host/capture"
	"iioboard/host/log"
	"iioboard/host/mcu"
	"iioboard/host/store"
)

// NewCaptureCommand runs one buffer capture and writes it as FITS
func NewCaptureCommand(o *Options) *cobra.Command {
	var (
		mode, mask, out string
		scans           int
		quiet           bool
	)
	cmd := &cobra.Command{
		Use:   "capture DEVICE",
		Short: "Capture samples into a FITS file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev := args[0]
			req := mcu.CaptureRequest{Mode: mcu.ModeBurst, Scans: scans}
			switch mode {
			case "burst":
			case "continuous":
				req.Mode = mcu.ModeContinuous
			default:
				return fmt.Errorf("mode must be burst or continuous, not %q", mode)
			}

			ctx := cmd.Context()
			if o.Config.Capture.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, o.Config.Capture.Timeout)
				defer cancel()
			}
			s, err := o.Connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			d, err := s.MCU.Device(dev)
			if err != nil {
				return err
			}
			if req.Mask, err = d.ParseMask(mask); err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(o.Config.Capture.Dir, fmt.Sprintf("%s-%s.fits", dev, time.Now().Format("20060102-150405")))
			}

			spinner, err := startSpinner(cmd, quiet, "capturing "+dev)
			if err != nil {
				return err
			}
			if spinner != nil {
				req.Progress = func(done, total int) {
					spinner.Message(fmt.Sprintf("%d/%d bytes", done, total))
				}
			}

			res, err := s.MCU.Capture(ctx, dev, req)
			err = keepShort(dev, res, err)
			if err == nil {
				err = writeCapture(out, res, req.Mode)
			}
			stopSpinner(spinner, out, err)
			if err != nil {
				return err
			}
			meta := res.Meta(req.Mode)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d scans of %d channels\n", out, meta.Scans, len(res.Layout.Channels))
			logCapture(o, store.CaptureRecord{
				Device:  dev,
				Mode:    meta.Mode,
				Mask:    uint32(req.Mask),
				Scans:   meta.Scans,
				Overrun: meta.Overrun,
				Path:    out,
			})
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&mode, "mode", "burst", "burst or continuous")
	flags.StringVarP(&mask, "mask", "m", "0x1", `Channels: a mask such as "0x3" or a list such as "voltage0,voltage1"`)
	flags.IntVarP(&scans, "scans", "n", 1024, "Number of scans")
	flags.StringVarP(&out, OutputOptionName, "o", "", "FITS file (default <device>-<time>.fits in the capture dir)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "No progress spinner")
	return cmd
}

// startSpinner shows progress on stderr unless quiet. A terminal that
// cannot host the spinner just goes without.
func startSpinner(cmd *cobra.Command, quiet bool, what string) (*yacspin.Spinner, error) {
	if quiet {
		return nil, nil
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		Writer:            cmd.ErrOrStderr(),
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + what,
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
	if err != nil {
		return nil, err
	}
	if err := spinner.Start(); err != nil {
		log.Debug("spinner: %v", err)
		return nil, nil
	}
	return spinner, nil
}

func stopSpinner(spinner *yacspin.Spinner, msg string, err error) {
	if spinner == nil {
		return
	}
	if err != nil {
		spinner.StopFailMessage(err.Error())
		_ = spinner.StopFail()
		return
	}
	spinner.StopMessage(msg)
	_ = spinner.Stop()
}

// keepShort accepts a capture that timed out after whole scans arrived;
// the scans are written as they are
func keepShort(dev string, res *mcu.CaptureResult, err error) error {
	if !res.Short(err) {
		return err
	}
	log.Warning("%s: %v, keeping %d whole scans", dev, err, len(res.Data)/res.ScanBytes)
	return nil
}

func writeCapture(path string, res *mcu.CaptureResult, mode int) error {
	codes, err := res.Codes()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := capture.WriteFITS(f, res.Layout, res.Meta(mode), codes); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// logCapture records a capture; the store is optional, so failures only
// warn
func logCapture(o *Options, rec store.CaptureRecord) {
	st, err := o.OpenStore()
	if err != nil {
		log.Warning("capture log: %v", err)
		return
	}
	defer st.Close()
	if _, err := st.LogCapture(rec); err != nil {
		log.Warning("capture log: %v", err)
	}
}
