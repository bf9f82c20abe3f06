package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjudeikis/classroom-labs/pkg/config"
)

type options struct {
	configPath string
	provider   string
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetReportCaller(true)
	log := logrus.NewEntry(logrus.StandardLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(log).ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCommand(log *logrus.Entry) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:           "classroom",
		Short:         "Provision ephemeral JupyterHub classrooms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "Configuration file")
	cmd.PersistentFlags().StringVar(&o.provider, "provider", "", "Override the configured provider (aws, kube, memory)")

	cmd.AddCommand(
		newProvisionCommand(log, o),
		newRunsCommand(log, o),
		newCleanupCommand(log, o),
		newReapCommand(log, o),
		newServeCommand(log, o),
	)
	return cmd
}

// load reads the configuration and applies the configured log level.
func (o *options) load(log *logrus.Entry) (*config.Config, error) {
	c, err := config.Load(log, o.configPath)
	if err != nil {
		return nil, err
	}
	if o.provider != "" {
		c.Provider = o.provider
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)
	return c, nil
}
