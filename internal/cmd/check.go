package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <key>",
		Short: "Run one admission check for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLimiter(cmd)
			if err != nil {
				return err
			}
			defer l.Close()

			d, err := l.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if d.Allowed {
				fmt.Fprintf(a.out, "admitted %s (%d/%d left)\n", d.Key, d.Remaining-1, d.Limit)
				return nil
			}
			fmt.Fprintf(a.out, "denied %s (resets in %.2fs)\n", d.Key, d.TimeUntilReset.Seconds())
			return nil
		},
	}
}
