package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
)

const anywhere = "0.0.0.0/0"

// StandardRules are applied to every classroom policy: SSH, HTTP and HTTPS
// from anywhere.
var StandardRules = []api.IngressRule{
	{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDR: anywhere},
	{Protocol: "tcp", FromPort: 80, ToPort: 80, CIDR: anywhere},
	{Protocol: "tcp", FromPort: 443, ToPort: 443, CIDR: anywhere},
}

type Manager struct {
	log      *logrus.Entry
	policies cloud.NetworkPolicies

	mutex   sync.Mutex
	mutexes map[string]*sync.Mutex
}

func New(log *logrus.Entry, policies cloud.NetworkPolicies) *Manager {
	return &Manager{
		log:      log,
		policies: policies,
		mutexes:  map[string]*sync.Mutex{},
	}
}

// EnsurePolicy returns the id of the policy called name, creating it if no
// policy of that name exists. Calls for the same name are serialized within
// this process only; two processes can still race and create duplicates.
func (m *Manager) EnsurePolicy(ctx context.Context, name, description string) (string, error) {
	mutex := m.getMutex(name)
	mutex.Lock()
	defer mutex.Unlock()

	log := m.log.WithField("policy", name)

	existing, err := m.policies.ListPolicies(ctx)
	if err != nil {
		return "", &api.NetworkError{Op: "list", Policy: name, Err: err}
	}
	for _, p := range existing {
		if p.Name == name {
			log.Infof("found existing policy %s", p.ID)
			return p.ID, nil
		}
	}

	p, err := m.policies.CreatePolicy(ctx, name, description)
	if err != nil {
		return "", &api.NetworkError{Op: "create", Policy: name, Err: err}
	}
	log.Infof("created policy %s", p.ID)
	return p.ID, nil
}

// AuthorizeIngress adds rule to the policy. An already present rule is not an
// error.
func (m *Manager) AuthorizeIngress(ctx context.Context, policyID string, rule api.IngressRule) error {
	log := m.log.WithFields(logrus.Fields{
		"policy":   policyID,
		"protocol": rule.Protocol,
		"ports":    portRange(rule),
		"cidr":     rule.CIDR,
	})
	log.Info("authorizing ingress")

	err := m.policies.AuthorizeIngress(ctx, policyID, rule)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cloud.ErrRuleExists):
		log.Info("ingress rule already exists")
		return nil
	default:
		return &api.NetworkError{Op: "authorize-ingress", Policy: policyID, Err: err}
	}
}

// SetupStandardRules applies StandardRules and reports whether all of them are
// in place. Rules applied before a failure are kept.
func (m *Manager) SetupStandardRules(ctx context.Context, policyID string) bool {
	ok := true
	for _, rule := range StandardRules {
		if err := m.AuthorizeIngress(ctx, policyID, rule); err != nil {
			m.log.WithField("policy", policyID).Error(err)
			ok = false
		}
	}
	return ok
}

func (m *Manager) getMutex(name string) *sync.Mutex {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	mu, ok := m.mutexes[name]
	if !ok {
		mu = &sync.Mutex{}
		m.mutexes[name] = mu
	}
	return mu
}

func portRange(rule api.IngressRule) string {
	return fmt.Sprintf("%d-%d", rule.FromPort, rule.ToPort)
}
