package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newReapCommand(log *logrus.Entry, o *options) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Fire due shutdown rules for providers without a native scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.load(log)
			if err != nil {
				return err
			}
			e, err := newEnvironment(cmd.Context(), log, c)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.reaper == nil {
				return fmt.Errorf("provider %s schedules shutdowns natively", c.Provider)
			}
			if once {
				fired, pending, err := e.reaper.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				log.Infof("%d rules fired, %d pending", fired, pending)
				return nil
			}
			e.reaper.Run(cmd.Context())
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Fire due rules once and exit")
	return cmd
}
