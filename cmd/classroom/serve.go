package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjudeikis/classroom-labs/pkg/server"
)

func newServeCommand(log *logrus.Entry, o *options) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run records and metrics, reaping due shutdown rules when needed",
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

			if e.reaper != nil {
				go e.reaper.Run(cmd.Context())
			}
			return server.New(log, address, e.runs, e.registry).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&address, "address", ":8080", "Bind address")
	return cmd
}
