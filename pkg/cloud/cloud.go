// Package cloud defines the provider capabilities the classroom orchestrator
// consumes. Backends live in the aws, kube, local and memory subpackages and
// translate their native errors into the sentinels below.
package cloud

import (
	"context"
	"errors"

	"github.com/mjudeikis/classroom-labs/pkg/api"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrRuleExists       = errors.New("ingress rule already exists")
	ErrPermissionExists = errors.New("invoke permission already exists")
)

// MachineSpec is a single machine creation request.
type MachineSpec struct {
	ImageID     string
	MachineType string
	KeyName     string
	UserData    string
	PolicyIDs   []string
	Tags        map[string]string
}

type Machine struct {
	ID            string
	State         api.MachineState
	PublicAddress string
}

type Compute interface {
	CreateMachine(ctx context.Context, spec MachineSpec) (*Machine, error)
	DescribeMachine(ctx context.Context, id string) (*Machine, error)
	StopMachine(ctx context.Context, id string) error
	TerminateMachine(ctx context.Context, id string) error
}

type NetworkPolicies interface {
	ListPolicies(ctx context.Context) ([]api.NetworkPolicy, error)
	CreatePolicy(ctx context.Context, name, description string) (*api.NetworkPolicy, error)
	// AuthorizeIngress returns ErrRuleExists when the rule is already present.
	AuthorizeIngress(ctx context.Context, policyID string, rule api.IngressRule) error
}

type EventScheduler interface {
	// CreateOneShotRule registers a rule firing at the UTC cron expression and
	// returns its provider id.
	CreateOneShotRule(ctx context.Context, name, expression string) (string, error)
	// GrantInvokePermission returns ErrPermissionExists when already granted.
	GrantInvokePermission(ctx context.Context, target, ruleID string) error
	SetRuleTarget(ctx context.Context, ruleID, target, targetID string, payload []byte) error
}

// Provider bundles the capabilities of one backend.
type Provider struct {
	Compute   Compute
	Network   NetworkPolicies
	Scheduler EventScheduler
}
