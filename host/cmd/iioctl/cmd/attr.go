package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAttrCommand groups attribute access
func NewAttrCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attr",
		Short: "Read and write device and channel attributes",
	}
	cmd.AddCommand(newAttrGetCommand(o))
	cmd.AddCommand(newAttrSetCommand(o))
	cmd.AddCommand(newAttrAvailableCommand(o))
	return cmd
}

func readAttr(cmd *cobra.Command, o *Options, dev, channel, attr string) error {
	s, err := o.Connect(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	d, err := s.MCU.Device(dev)
	if err != nil {
		return err
	}
	ch, err := parseChannel(d, channel)
	if err != nil {
		return err
	}
	v, err := s.MCU.ReadAttr(cmd.Context(), dev, ch, attr)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func newAttrGetCommand(o *Options) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "get DEVICE ATTR",
		Short: "Read an attribute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return readAttr(cmd, o, args[0], channel, args[1])
		},
	}
	cmd.Flags().StringVarP(&channel, ChannelOptionName, "c", "", "Channel name or index; device attribute if empty")
	return cmd
}

func newAttrAvailableCommand(o *Options) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "available DEVICE ATTR",
		Short: "List the accepted values of an attribute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return readAttr(cmd, o, args[0], channel, args[1]+"_available")
		},
	}
	cmd.Flags().StringVarP(&channel, ChannelOptionName, "c", "", "Channel name or index; device attribute if empty")
	return cmd
}

func newAttrSetCommand(o *Options) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "set DEVICE ATTR VALUE",
		Short: "Write an attribute",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			d, err := s.MCU.Device(args[0])
			if err != nil {
				return err
			}
			ch, err := parseChannel(d, channel)
			if err != nil {
				return err
			}
			return s.MCU.WriteAttr(cmd.Context(), args[0], ch, args[1], args[2])
		},
	}
	cmd.Flags().StringVarP(&channel, ChannelOptionName, "c", "", "Channel name or index; device attribute if empty")
	return cmd
}
