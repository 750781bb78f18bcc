package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewHistoryCommand lists logged captures
func NewHistoryCommand(o *Options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent captures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()
			recs, err := st.Captures(limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tDEVICE\tMODE\tMASK\tSCANS\tOVERRUN\tFILE")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%#x\t%d\t%t\t%s\n",
					r.ID, r.Time.Format(time.RFC3339), r.Device, r.Mode, r.Mask, r.Scans, r.Overrun, r.Path)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of captures; 0 for all")
	return cmd
}
