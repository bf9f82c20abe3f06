package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ghodss/yaml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjudeikis/classroom-labs/pkg/store"
)

func newRunsCommand(log *logrus.Entry, o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "runs [RUN_ID]",
		Short: "List provisioning runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.load(log)
			if err != nil {
				return err
			}
			s, err := store.New(log, c.StorageDir, "runs")
			if err != nil {
				return err
			}
			runs := store.NewRuns(s)

			if len(args) == 1 {
				run, err := runs.Get(args[0])
				if err != nil {
					return err
				}
				b, err := yaml.Marshal(run)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(b)
				return err
			}

			list, err := runs.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tSTATUS\tMACHINES\tERROR")
			for _, run := range list {
				ids := make([]string, 0, len(run.Machines))
				for _, m := range run.Machines {
					ids = append(ids, m.ID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", run.ID, run.CreatedAt.Format(time.RFC3339), run.Status, strings.Join(ids, ","), run.Error)
			}
			return w.Flush()
		},
	}
}
