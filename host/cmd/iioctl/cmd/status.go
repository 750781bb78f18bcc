package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand reports firmware uptime and shutdown state
func NewStatusCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show firmware uptime and shutdown state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			up, err := s.MCU.Uptime(cmd.Context())
			if err != nil {
				return err
			}
			st, err := s.MCU.Status(cmd.Context())
			if err != nil {
				return err
			}
			d := s.MCU.Dictionary()
			fmt.Fprintf(cmd.OutOrStdout(), "firmware %s on %s\nuptime %s\ndevices %d\nshutdown %t\n",
				d.Version, d.Config["MCU"], up, st.Devices, st.Shutdown)
			return nil
		},
	}
}

// NewStopCommand halts every capture on the board
func NewStopCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Emergency stop: abort all captures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.MCU.EmergencyStop(cmd.Context())
		},
	}
}
