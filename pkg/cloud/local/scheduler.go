// Package local is a file-backed cloud.EventScheduler for providers without
// a native event bus. Rules are kept in the record store and fired by a
// Reaper running next to the operator.
package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"k8s.io/utils/clock"

	"github.com/mjudeikis/classroom-labs/pkg/cloud"
	"github.com/mjudeikis/classroom-labs/pkg/shutdown"
	"github.com/mjudeikis/classroom-labs/pkg/store"
)

type Rule struct {
	Name        string    `yaml:"name"`
	Expression  string    `yaml:"expression"`
	FireAt      time.Time `yaml:"fireAt"`
	Permissions []string  `yaml:"permissions,omitempty"`
	Target      string    `yaml:"target,omitempty"`
	TargetID    string    `yaml:"targetId,omitempty"`
	Payload     string    `yaml:"payload,omitempty"`

	FiredAt *time.Time `yaml:"firedAt,omitempty"`
	Error   string     `yaml:"error,omitempty"`
}

// Pending reports whether the rule still has to fire.
func (r *Rule) Pending() bool {
	return r.FiredAt == nil
}

func (r *Rule) permitted(target string) bool {
	for _, p := range r.Permissions {
		if p == target {
			return true
		}
	}
	return false
}

type Scheduler struct {
	log   *logrus.Entry
	store store.Store
	clock clock.PassiveClock
	mu    sync.Mutex
}

var _ cloud.EventScheduler = &Scheduler{}

func NewScheduler(log *logrus.Entry, s store.Store, clk clock.PassiveClock) *Scheduler {
	return &Scheduler{log: log, store: s, clock: clk}
}

// CreateOneShotRule stores the rule under its name; the name is the rule id.
// Re-creating a rule replaces its schedule and re-arms it.
func (s *Scheduler) CreateOneShotRule(ctx context.Context, name, expression string) (string, error) {
	fireAt, err := shutdown.ParseExpression(expression)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := s.get(name)
	if errors.Is(err, store.ErrNotFound) {
		rule = &Rule{Name: name}
	} else if err != nil {
		return "", err
	}
	rule.Expression = expression
	rule.FireAt = fireAt
	rule.FiredAt = nil
	rule.Error = ""
	if err := s.put(rule); err != nil {
		return "", err
	}
	s.log.WithField("rule", name).Debugf("rule armed for %s", fireAt.Format(time.RFC3339))
	return name, nil
}

func (s *Scheduler) GrantInvokePermission(ctx context.Context, target, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := s.lookup(ruleID)
	if err != nil {
		return err
	}
	if rule.permitted(target) {
		return cloud.ErrPermissionExists
	}
	rule.Permissions = append(rule.Permissions, target)
	return s.put(rule)
}

func (s *Scheduler) SetRuleTarget(ctx context.Context, ruleID, target, targetID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := s.lookup(ruleID)
	if err != nil {
		return err
	}
	rule.Target = target
	rule.TargetID = targetID
	rule.Payload = string(payload)
	return s.put(rule)
}

// Rules returns all stored rules ordered by fire time.
func (s *Scheduler) Rules() ([]*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.List()
	if err != nil {
		return nil, err
	}
	rules := make([]*Rule, 0, len(keys))
	for _, k := range keys {
		rule, err := s.get(k)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].FireAt.Before(rules[j].FireAt)
	})
	return rules, nil
}

// markFired records the outcome of firing a rule.
func (s *Scheduler) markFired(name string, fireErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := s.lookup(name)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	rule.FiredAt = &now
	rule.Error = ""
	if fireErr != nil {
		rule.Error = fireErr.Error()
	}
	return s.put(rule)
}

func (s *Scheduler) lookup(name string) (*Rule, error) {
	rule, err := s.get(name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("rule %s: %w", name, cloud.ErrNotFound)
	}
	return rule, err
}

func (s *Scheduler) get(name string) (*Rule, error) {
	b, err := s.store.Get(name)
	if err != nil {
		return nil, err
	}
	var rule Rule
	if err := yaml.Unmarshal(b, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Scheduler) put(rule *Rule) error {
	b, err := yaml.Marshal(rule)
	if err != nil {
		return err
	}
	return s.store.Put(rule.Name, b)
}
