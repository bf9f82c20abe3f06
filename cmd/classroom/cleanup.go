package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjudeikis/classroom-labs/pkg/terminator"
)

func newCleanupCommand(log *logrus.Entry, o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup RUN_ID",
		Short: "Terminate every machine recorded for a run",
		Args:  cobra.ExactArgs(1),
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

			run, err := e.runs.Get(args[0])
			if err != nil {
				return err
			}
			h, err := terminator.New(log.WithField("run", run.ID), e.provider.Compute, terminator.ActionTerminate)
			if err != nil {
				return err
			}

			var failed int
			for _, m := range run.Machines {
				resp, err := h.Handle(cmd.Context(), terminator.Request{MachineID: m.ID})
				if err != nil {
					log.Errorf("terminating %s: %v", m.ID, err)
					failed++
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Body)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d machines could not be terminated", failed, len(run.Machines))
			}
			return nil
		},
	}
}
