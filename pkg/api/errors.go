package api

import (
	"fmt"
	"strings"
	"time"
)

// NetworkError reports a failed policy lookup, creation or rule change.
type NetworkError struct {
	Op     string
	Policy string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network policy %s %q: %v", e.Op, e.Policy, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TemplateRenderError names the bootstrap field that could not be rendered.
type TemplateRenderError struct {
	Field string
	Err   error
}

func (e *TemplateRenderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bootstrap template: missing or invalid field %s", e.Field)
	}
	return fmt.Sprintf("bootstrap template: field %s: %v", e.Field, e.Err)
}

func (e *TemplateRenderError) Unwrap() error { return e.Err }

// ProvisioningError aborts a fleet. Created lists the machines that were
// already created by earlier batches and now need operator cleanup.
type ProvisioningError struct {
	Batch   int
	Created []string
	Err     error
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("provisioning batch %d: %v", e.Batch, e.Err)
	if len(e.Created) > 0 {
		msg += fmt.Sprintf(" (already created: %s)", strings.Join(e.Created, ", "))
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// SchedulingError reports a failed shutdown registration. Step is one of
// rule, permission or target.
type SchedulingError struct {
	MachineID string
	Step      string
	Err       error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling shutdown of %s (%s): %v", e.MachineID, e.Step, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

type TimeoutError struct {
	MachineID string
	Timeout   time.Duration
	Err       error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("machine %s not running within %s", e.MachineID, e.Timeout)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Err }
