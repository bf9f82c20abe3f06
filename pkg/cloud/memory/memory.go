// Package memory is an in-process cloud used by tests and dry runs. Machines
// boot after BootTime has elapsed on the injected clock.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
)

type machine struct {
	spec    cloud.MachineSpec
	state   api.MachineState
	created time.Time
	address string
}

type Rule struct {
	ID         string
	Name       string
	Expression string
	Target     string
	TargetID   string
	Payload    []byte
}

// Cloud implements cloud.Compute, cloud.NetworkPolicies and
// cloud.EventScheduler. The exported hook fields must be set before use.
type Cloud struct {
	mu    sync.Mutex
	clock clock.PassiveClock

	BootTime time.Duration
	// Hung machines never leave pending.
	Hung map[string]bool

	CreateMachineErr func(n int) error
	DescribeErr      error
	ListPoliciesErr  error
	CreatePolicyErr  error
	AuthorizeErr     func(rule api.IngressRule) error
	CreateRuleErr    error
	PermissionErr    error
	SetTargetErr     error

	machines     map[string]*machine
	order        []string
	policies     []*api.NetworkPolicy
	rules        map[string]*Rule
	permissions  map[string]bool
	createPolicy int
	describes    int
}

var (
	_ cloud.Compute         = &Cloud{}
	_ cloud.NetworkPolicies = &Cloud{}
	_ cloud.EventScheduler  = &Cloud{}
)

func New(c clock.PassiveClock) *Cloud {
	return &Cloud{
		clock:       c,
		Hung:        map[string]bool{},
		machines:    map[string]*machine{},
		rules:       map[string]*Rule{},
		permissions: map[string]bool{},
	}
}

// Provider returns the cloud as a cloud.Provider.
func (c *Cloud) Provider() cloud.Provider {
	return cloud.Provider{Compute: c, Network: c, Scheduler: c}
}

func (c *Cloud) CreateMachine(ctx context.Context, spec cloud.MachineSpec) (*cloud.Machine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.order) + 1
	if c.CreateMachineErr != nil {
		if err := c.CreateMachineErr(n); err != nil {
			return nil, err
		}
	}

	id := fmt.Sprintf("i-%04d", n)
	c.machines[id] = &machine{
		spec:    spec,
		state:   api.MachineStatePending,
		created: c.clock.Now(),
		address: fmt.Sprintf("10.0.0.%d", n),
	}
	c.order = append(c.order, id)
	return &cloud.Machine{ID: id, State: api.MachineStatePending}, nil
}

func (c *Cloud) DescribeMachine(ctx context.Context, id string) (*cloud.Machine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.describes++
	if c.DescribeErr != nil {
		return nil, c.DescribeErr
	}
	m, ok := c.machines[id]
	if !ok {
		return nil, fmt.Errorf("machine %s: %w", id, cloud.ErrNotFound)
	}
	if m.state == api.MachineStatePending && !c.Hung[id] && c.clock.Since(m.created) >= c.BootTime {
		m.state = api.MachineStateRunning
	}

	out := &cloud.Machine{ID: id, State: m.state}
	if m.state == api.MachineStateRunning {
		out.PublicAddress = m.address
	}
	return out, nil
}

func (c *Cloud) StopMachine(ctx context.Context, id string) error {
	return c.setState(id, api.MachineStateStopped)
}

func (c *Cloud) TerminateMachine(ctx context.Context, id string) error {
	return c.setState(id, api.MachineStateTerminated)
}

func (c *Cloud) setState(id string, state api.MachineState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.machines[id]
	if !ok {
		return fmt.Errorf("machine %s: %w", id, cloud.ErrNotFound)
	}
	m.state = state
	return nil
}

// SetState forces a machine into state.
func (c *Cloud) SetState(id string, state api.MachineState) {
	_ = c.setState(id, state)
}

// Specs returns the creation requests in order.
func (c *Cloud) Specs() []cloud.MachineSpec {
	c.mu.Lock()
	defer c.mu.Unlock()

	specs := make([]cloud.MachineSpec, 0, len(c.order))
	for _, id := range c.order {
		specs = append(specs, c.machines[id].spec)
	}
	return specs
}

func (c *Cloud) State(id string) api.MachineState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.machines[id]; ok {
		return m.state
	}
	return api.MachineStateUnknown
}

func (c *Cloud) Describes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.describes
}

func (c *Cloud) ListPolicies(ctx context.Context) ([]api.NetworkPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ListPoliciesErr != nil {
		return nil, c.ListPoliciesErr
	}
	out := make([]api.NetworkPolicy, 0, len(c.policies))
	for _, p := range c.policies {
		out = append(out, *p)
	}
	return out, nil
}

func (c *Cloud) CreatePolicy(ctx context.Context, name, description string) (*api.NetworkPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CreatePolicyErr != nil {
		return nil, c.CreatePolicyErr
	}
	c.createPolicy++
	p := &api.NetworkPolicy{
		ID:          fmt.Sprintf("sg-%04d", len(c.policies)+1),
		Name:        name,
		Description: description,
	}
	c.policies = append(c.policies, p)
	out := *p
	return &out, nil
}

func (c *Cloud) AuthorizeIngress(ctx context.Context, policyID string, rule api.IngressRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.AuthorizeErr != nil {
		if err := c.AuthorizeErr(rule); err != nil {
			return err
		}
	}
	for _, p := range c.policies {
		if p.ID != policyID {
			continue
		}
		for _, r := range p.Rules {
			if r == rule {
				return cloud.ErrRuleExists
			}
		}
		p.Rules = append(p.Rules, rule)
		return nil
	}
	return fmt.Errorf("policy %s: %w", policyID, cloud.ErrNotFound)
}

// CreatePolicyCalls counts successful CreatePolicy calls.
func (c *Cloud) CreatePolicyCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createPolicy
}

// Policy returns a copy of the policy with id.
func (c *Cloud) Policy(id string) *api.NetworkPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.policies {
		if p.ID == id {
			out := *p
			out.Rules = append([]api.IngressRule(nil), p.Rules...)
			return &out
		}
	}
	return nil
}

func (c *Cloud) CreateOneShotRule(ctx context.Context, name, expression string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CreateRuleErr != nil {
		return "", c.CreateRuleErr
	}
	id := "rule/" + name
	c.rules[id] = &Rule{ID: id, Name: name, Expression: expression}
	return id, nil
}

func (c *Cloud) GrantInvokePermission(ctx context.Context, target, ruleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PermissionErr != nil {
		return c.PermissionErr
	}
	key := target + "|" + ruleID
	if c.permissions[key] {
		return cloud.ErrPermissionExists
	}
	c.permissions[key] = true
	return nil
}

func (c *Cloud) SetRuleTarget(ctx context.Context, ruleID, target, targetID string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SetTargetErr != nil {
		return c.SetTargetErr
	}
	r, ok := c.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %s: %w", ruleID, cloud.ErrNotFound)
	}
	r.Target = target
	r.TargetID = targetID
	r.Payload = append([]byte(nil), payload...)
	return nil
}

// Rules returns copies of the registered rules ordered by name.
func (c *Cloud) Rules() []Rule {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
