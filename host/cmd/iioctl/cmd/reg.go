package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRegCommand groups debug register access
func NewRegCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reg",
		Short: "Read and write chip registers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "read DEVICE ADDR",
		Short: "Read a register",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return err
			}
			s, err := o.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			v, err := s.MCU.ReadReg(cmd.Context(), args[0], uint32(addr))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%#x\n", v)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "write DEVICE ADDR VALUE",
		Short: "Write a register",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return err
			}
			val, err := strconv.ParseUint(args[2], 0, 32)
			if err != nil {
				return err
			}
			s, err := o.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.MCU.WriteReg(cmd.Context(), args[0], uint32(addr), uint32(val))
		},
	})
	return cmd
}
