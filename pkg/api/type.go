package api

import (
	"time"
)

// Secret holds a credential that must never be printed. Formatting it with
// %v or %s yields a placeholder; Reveal returns the real value.
type Secret string

const redacted = "[redacted]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Reveal returns the cleartext secret.
func (s Secret) Reveal() string { return string(s) }

type TenantCredential struct {
	Username string `json:"username"`
	Password Secret `json:"password"`
}

type AdminCredential struct {
	Username string `json:"username"`
	Password Secret `json:"password"`
}

// MachineBatch is the contiguous slice of tenants assigned to one machine.
type MachineBatch struct {
	Index           int
	Tenants         []TenantCredential
	Admin           AdminCredential
	BootstrapScript string
}

// MachineTemplate carries the provider parameters shared by every machine of a
// run.
type MachineTemplate struct {
	ImageID     string
	MachineType string
	KeyName     string
	PolicyID    string
	Tags        map[string]string
}

type ProvisionedMachine struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	PublicAddress string             `json:"publicAddress"`
	Tenants       []TenantCredential `json:"tenants"`
	Admin         AdminCredential    `json:"admin"`
	Schedule      *ShutdownSchedule  `json:"schedule,omitempty"`
}

// Usernames returns the tenant usernames in batch order.
func (m ProvisionedMachine) Usernames() []string {
	names := make([]string, 0, len(m.Tenants))
	for _, t := range m.Tenants {
		names = append(names, t.Username)
	}
	return names
}

type IngressRule struct {
	Protocol string `json:"protocol"`
	FromPort int32  `json:"fromPort"`
	ToPort   int32  `json:"toPort"`
	CIDR     string `json:"cidr"`
}

type NetworkPolicy struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Rules       []IngressRule `json:"rules,omitempty"`
}

type ShutdownSchedule struct {
	MachineID  string    `json:"machineId"`
	FireAt     time.Time `json:"fireAt"`
	RuleID     string    `json:"ruleId"`
	RuleName   string    `json:"ruleName"`
	Expression string    `json:"expression"`
}

type MachineState string

const (
	MachineStatePending      MachineState = "pending"
	MachineStateRunning      MachineState = "running"
	MachineStateStopping     MachineState = "stopping"
	MachineStateStopped      MachineState = "stopped"
	MachineStateShuttingDown MachineState = "shutting-down"
	MachineStateTerminated   MachineState = "terminated"
	MachineStateUnknown      MachineState = "unknown"
)

type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the operator-facing record of one provisioning call. It never holds
// passwords.
type Run struct {
	ID        string       `json:"id" yaml:"id"`
	Stamp     string       `json:"stamp" yaml:"stamp"`
	Status    RunStatus    `json:"status" yaml:"status"`
	Error     string       `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt" yaml:"createdAt"`
	PolicyID  string       `json:"policyId,omitempty" yaml:"policyId,omitempty"`
	Machines  []RunMachine `json:"machines" yaml:"machines"`
}

type RunMachine struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	PublicAddress string   `json:"publicAddress,omitempty" yaml:"publicAddress,omitempty"`
	Usernames     []string `json:"usernames,omitempty" yaml:"usernames,omitempty"`
	ShutdownRule  string   `json:"shutdownRule,omitempty" yaml:"shutdownRule,omitempty"`
}
