// Package cmd is the iioctl command tree.
package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"iioboard/host/config"
	"iioboard/host/log"
	"iioboard/host/mcu"
	"iioboard/host/store"
	"iioboard/iio"
	"iioboard/internal/sim/board"
)

const (
	ConfigOptionName   = "config"
	LogLevelOptionName = "log-level"
	PortOptionName     = "port"
	SimOptionName      = "sim"
	ChannelOptionName  = "channel"
)

// Options are the persistent flags and the configuration they select
type Options struct {
	ConfigPath string
	LogLevel   string
	Port       string
	Sim        bool

	Config *config.Config
}

// NewRootCommand builds iioctl with every subcommand
func NewRootCommand(out io.Writer) *cobra.Command {
	o := &Options{}
	cmd := &cobra.Command{
		Use:           "iioctl",
		Short:         "Control IIO converters on an evaluation board",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.load(cmd)
		},
	}
	cmd.SetOut(out)
	cmd.AddCommand(NewDevicesCommand(o))
	cmd.AddCommand(NewAttrCommand(o))
	cmd.AddCommand(NewRegCommand(o))
	cmd.AddCommand(NewCaptureCommand(o))
	cmd.AddCommand(NewOutputCommand(o))
	cmd.AddCommand(NewServeCommand(o))
	cmd.AddCommand(NewProfileCommand(o))
	cmd.AddCommand(NewConfigCommand(o))
	cmd.AddCommand(NewHistoryCommand(o))
	cmd.AddCommand(NewStatusCommand(o))
	cmd.AddCommand(NewStopCommand(o))

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.ConfigPath, ConfigOptionName, "", "Config file (default "+config.DefaultConfigPath()+")")
	flags.StringVar(&o.LogLevel, LogLevelOptionName, "", fmt.Sprintf("Log level. %s", log.HelpLevels))
	flags.StringVar(&o.Port, PortOptionName, "", "Serial device of the board")
	flags.BoolVar(&o.Sim, SimOptionName, false, "Use the built-in simulated board")
	return cmd
}

func (o *Options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Port != "" {
		cfg.Serial.Device = o.Port
	}
	if o.Sim {
		cfg.Sim = true
	}
	o.Config = cfg
	return log.Init(cmd.ErrOrStderr(), cfg.LogLevel)
}

// Session is an open board connection
type Session struct {
	MCU   *mcu.MCU
	board *board.Board
}

// Close drops the connection and stops a simulated board
func (s *Session) Close() {
	if err := s.MCU.Close(); err != nil {
		log.Debug("close: %v", err)
	}
	if s.board != nil {
		if err := s.board.Close(); err != nil {
			log.Warning("simulator: %v", err)
		}
	}
}

// Connect opens the configured board and loads its dictionary
func (o *Options) Connect(ctx context.Context) (*Session, error) {
	s := &Session{}
	if o.Config.Sim {
		b, err := board.New(board.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("simulator: %w", err)
		}
		conn, err := b.Connect(ctx)
		if err != nil {
			return nil, err
		}
		s.board = b
		s.MCU = mcu.New(conn)
		if err := s.MCU.RetrieveDictionary(ctx); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("connected to simulated board")
	} else {
		m, err := mcu.Connect(ctx, &o.Config.Serial)
		if err != nil {
			return nil, err
		}
		s.MCU = m
		log.Info("connected to %s", o.Config.Serial.Device)
	}
	if o.Config.Capture.Poll > 0 {
		s.MCU.PollInterval = o.Config.Capture.Poll
	}
	return s, nil
}

// OpenStore opens the profile and capture database
func (o *Options) OpenStore() (*store.Store, error) {
	return store.Open(o.Config.Store)
}

// parseChannel accepts a channel name or index; "" selects the device
// attributes
func parseChannel(d *mcu.DeviceInfo, s string) (int, error) {
	if s == "" {
		return iio.GlobalChannel, nil
	}
	if c, ok := d.Channel(s); ok {
		return c.Index, nil
	}
	ch, err := strconv.Atoi(s)
	if err != nil || ch < 0 {
		return 0, fmt.Errorf("channel %q: %w", s, iio.ErrInvalid)
	}
	return ch, nil
}
