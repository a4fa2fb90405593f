package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key>...",
		Short: "Clear the rate limit window for one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLimiter(cmd)
			if err != nil {
				return err
			}
			defer l.Close()

			for _, key := range args {
				if err := l.Reset(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "reset %s\n", key)
			}
			return nil
		},
	}
}
