package cmd

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"iioboard/host/capture"
	"iioboard/host/log"
	"iioboard/host/mcu"
	"iioboard/iio"
)

// Waveform shapes for the output command
var waveforms = []string{"ramp", "sine", "square"}

// NewOutputCommand plays a waveform or a list of codes on an output buffer
func NewOutputCommand(o *Options) *cobra.Command {
	var (
		mode, mask, wave, codes string
		scans                   int
		quiet                   bool
	)
	cmd := &cobra.Command{
		Use:   "output DEVICE",
		Short: "Play a waveform through a DAC buffer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev := args[0]
			req := mcu.OutputRequest{Mode: mcu.ModeBurst}
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
			l, err := s.MCU.Layout(ctx, dev, req.Mask)
			if err != nil {
				return err
			}

			var column []int32
			if codes != "" {
				column, err = parseCodes(codes)
			} else {
				column, err = waveform(wave, scans, l.Channels[0].ScanType)
			}
			if err != nil {
				return err
			}
			cols := make([][]int32, len(l.Channels))
			for i := range cols {
				cols[i] = column
			}
			if req.Data, err = capture.Encode(l, cols); err != nil {
				return err
			}

			spinner, err := startSpinner(cmd, quiet, "playing on "+dev)
			if err != nil {
				return err
			}
			if spinner != nil {
				req.Progress = func(done, total int) {
					spinner.Message(fmt.Sprintf("%d/%d bytes", done, total))
				}
			}
			res, err := s.MCU.Output(ctx, dev, req)
			stopSpinner(spinner, dev, err)
			if err != nil {
				return err
			}
			if res.Underrun {
				log.Warning("%s: buffer ran dry during playback", dev)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: played %d scans on %d channels\n", dev, res.Scans, len(l.Channels))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&mode, "mode", "burst", "burst or continuous")
	flags.StringVarP(&mask, "mask", "m", "0x1", `Channels: a mask such as "0x3" or a list such as "voltage0,voltage1"`)
	flags.StringVarP(&wave, "wave", "w", "ramp", "Waveform: "+strings.Join(waveforms, ", "))
	flags.IntVarP(&scans, "scans", "n", 256, "Scans in one waveform period")
	flags.StringVar(&codes, "codes", "", "Comma separated codes played on every channel instead of a waveform")
	flags.BoolVarP(&quiet, "quiet", "q", false, "No progress spinner")
	return cmd
}

func parseCodes(s string) ([]int32, error) {
	var out []int32
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("code %q: %w", f, iio.ErrInvalid)
		}
		out = append(out, int32(v))
	}
	return out, nil
}

// waveform returns one period of shape spanning the full code range of st
func waveform(shape string, scans int, st iio.ScanType) ([]int32, error) {
	if scans < 2 {
		return nil, fmt.Errorf("%d scans: %w", scans, iio.ErrInvalid)
	}
	lo, hi := 0.0, float64(uint32(1)<<st.RealBits-1)
	if st.Sign == 's' {
		lo, hi = -float64(uint32(1)<<(st.RealBits-1)), float64(uint32(1)<<(st.RealBits-1)-1)
	}
	out := make([]int32, scans)
	for i := range out {
		var v float64
		switch shape {
		case "ramp":
			v = lo + (hi-lo)*float64(i)/float64(scans-1)
		case "sine":
			v = (lo+hi)/2 + (hi-lo)/2*math.Sin(2*math.Pi*float64(i)/float64(scans))
		case "square":
			v = lo
			if i >= scans/2 {
				v = hi
			}
		default:
			return nil, fmt.Errorf("waveform %q, want one of %s", shape, strings.Join(waveforms, ", "))
		}
		out[i] = int32(math.Round(v))
	}
	return out, nil
}
