package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

const OutputOptionName = "output"

// NewDevicesCommand lists the bound devices
func NewDevicesCommand(o *Options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices, their channels and attributes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			devs := s.MCU.Devices()

			out := cmd.OutOrStdout()
			switch output {
			case "json":
				data, err := json.MarshalIndent(devs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			case "yaml":
				data, err := yaml.Marshal(devs)
				if err != nil {
					return err
				}
				fmt.Fprint(out, string(data))
			case "", "table":
				w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
				fmt.Fprintln(w, "INDEX\tNAME\tCHANNELS\tBUFFER\tATTRS")
				for _, d := range devs {
					buf := "-"
					if d.Buffer != nil {
						buf = fmt.Sprintf("%d", d.Buffer.Capacity)
					}
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", d.Index, d.Name, len(d.Channels), buf, strings.Join(d.Attrs, ","))
				}
				return w.Flush()
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, OutputOptionName, "o", "table", "Output format: table, json or yaml")
	return cmd
}
