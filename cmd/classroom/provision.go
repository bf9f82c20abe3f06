package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjudeikis/classroom-labs/pkg/api"
)

func newProvisionCommand(log *logrus.Entry, o *options) *cobra.Command {
	var (
		usersPerMachine int
		output          string
	)
	cmd := &cobra.Command{
		Use:   "provision TENANTS_FILE",
		Short: "Provision a classroom for the tenants listed in a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.load(log)
			if err != nil {
				return err
			}
			tenants, err := readTenants(args[0])
			if err != nil {
				return err
			}

			e, err := newEnvironment(cmd.Context(), log, c)
			if err != nil {
				return err
			}
			defer e.Close()

			orch, err := e.orchestrator()
			if err != nil {
				return err
			}
			machines, err := orch.ProvisionClassroom(cmd.Context(), tenants, usersPerMachine)
			if err != nil {
				var provErr *api.ProvisioningError
				if errors.As(err, &provErr) && len(provErr.Created) > 0 {
					log.Warnf("machines %v were created before the failure; remove them with `classroom cleanup`", provErr.Created)
				}
				return err
			}
			return writeMachines(output, machines)
		},
	}
	cmd.Flags().IntVarP(&usersPerMachine, "users-per-machine", "u", 0, "Tenants per machine (default from configuration)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write machines and credentials to this file instead of stdout")
	return cmd
}

func readTenants(path string) ([]api.TenantCredential, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tenants []api.TenantCredential
	if err := yaml.Unmarshal(b, &tenants); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(tenants) == 0 {
		return nil, fmt.Errorf("%s lists no tenants", path)
	}
	return tenants, nil
}

// writeMachines emits the fleet, credentials included, for distribution to
// the tenants.
func writeMachines(path string, machines []api.ProvisionedMachine) error {
	b, err := yaml.Marshal(machines)
	if err != nil {
		return err
	}
	if path == "" {
		_, err = os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0600)
}
