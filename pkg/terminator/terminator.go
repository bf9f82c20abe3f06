// Package terminator is the command handler invoked when a shutdown rule
// fires. It is idempotent: machines already in the requested end state are
// left alone.
package terminator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/cloud"
)

type Action string

const (
	ActionStop      Action = "stop"
	ActionTerminate Action = "terminate"
)

// Request is the rule payload.
type Request struct {
	MachineID string `json:"machine_id"`
}

type Response struct {
	StatusCode int              `json:"statusCode"`
	Body       string           `json:"body"`
	State      api.MachineState `json:"state,omitempty"`
}

type Handler struct {
	log     *logrus.Entry
	compute cloud.Compute
	action  Action
}

func New(log *logrus.Entry, compute cloud.Compute, action Action) (*Handler, error) {
	switch action {
	case ActionStop, ActionTerminate:
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
	return &Handler{log: log, compute: compute, action: action}, nil
}

func (h *Handler) Handle(ctx context.Context, req Request) (*Response, error) {
	if req.MachineID == "" {
		return nil, fmt.Errorf("machine_id is required")
	}
	log := h.log.WithFields(logrus.Fields{"machine": req.MachineID, "action": h.action})
	log.Info("received request")

	m, err := h.compute.DescribeMachine(ctx, req.MachineID)
	if errors.Is(err, cloud.ErrNotFound) {
		log.Info("machine not found")
		return &Response{
			StatusCode: http.StatusNotFound,
			Body:       fmt.Sprintf("Machine %s not found", req.MachineID),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", req.MachineID, err)
	}
	log.Infof("current state: %s", m.State)

	switch h.action {
	case ActionStop:
		if m.State != api.MachineStateRunning {
			return &Response{
				StatusCode: http.StatusOK,
				Body:       fmt.Sprintf("Machine %s is already in state: %s", req.MachineID, m.State),
				State:      m.State,
			}, nil
		}
		if err := h.compute.StopMachine(ctx, req.MachineID); err != nil {
			return nil, fmt.Errorf("stopping %s: %w", req.MachineID, err)
		}
		log.Info("stop initiated")
		return &Response{
			StatusCode: http.StatusOK,
			Body:       fmt.Sprintf("Successfully initiated shutdown for machine %s", req.MachineID),
			State:      api.MachineStateStopping,
		}, nil

	default:
		if m.State == api.MachineStateTerminated {
			return &Response{
				StatusCode: http.StatusOK,
				Body:       fmt.Sprintf("Machine %s is already terminated", req.MachineID),
				State:      m.State,
			}, nil
		}
		if err := h.compute.TerminateMachine(ctx, req.MachineID); err != nil {
			return nil, fmt.Errorf("terminating %s: %w", req.MachineID, err)
		}
		log.Info("termination initiated")
		return &Response{
			StatusCode: http.StatusOK,
			Body:       fmt.Sprintf("Successfully initiated termination for machine %s", req.MachineID),
			State:      api.MachineStateShuttingDown,
		}, nil
	}
}

// Invoke decodes a raw rule payload and handles it. Responses other than
// 200 are returned as errors.
func (h *Handler) Invoke(ctx context.Context, payload []byte) error {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	resp, err := h.Handle(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
