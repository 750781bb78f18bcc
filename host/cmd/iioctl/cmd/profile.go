package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"iioboard/host/store"
)

// NewProfileCommand saves and restores attribute profiles
func NewProfileCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Save and apply attribute profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "save DEVICE NAME",
		Short: "Save the current settable attributes of a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()
			s, err := o.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			p, err := store.Snapshot(cmd.Context(), s.MCU, args[0], args[1])
			if err != nil {
				return err
			}
			if err := st.SaveProfile(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d attributes as %s/%s\n", len(p.Attrs), p.Device, p.Name)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "apply DEVICE NAME",
		Short: "Write a saved profile to a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()
			p, err := st.Profile(args[0], args[1])
			if err != nil {
				return err
			}
			s, err := o.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return store.Apply(cmd.Context(), s.MCU, p)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list DEVICE",
		Short: "List saved profiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()
			names, err := st.Profiles(args[0])
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show DEVICE NAME",
		Short: "Print a saved profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()
			p, err := st.Profile(args[0], args[1])
			if err != nil {
				return err
			}
			for _, a := range p.Attrs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", a.Key(), a.Value)
			}
			return nil
		},
	})
	return cmd
}
