package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"facture-fec/internal/fec"
)

func newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the FEC columns the model is asked to fill",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for i, f := range fec.Fields {
				suffix := ""
				if f.Optional {
					suffix = " (facultatif)"
				}
				fmt.Fprintf(out, "%2d. %s%s: %s\n", i+1, f.Name, suffix, f.Description)
			}
			fmt.Fprintln(out)
			for _, r := range fec.Remarks {
				fmt.Fprintf(out, "- %s\n", r)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, fec.Conclusion)
			return nil
		},
	}
}
