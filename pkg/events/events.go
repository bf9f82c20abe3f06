// Package events publishes classroom run lifecycle events for downstream
// consumers such as the notification service. Events never carry
// credentials.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/mjudeikis/classroom-labs/pkg/api"
)

const (
	SubjectRunSucceeded = "classroom.run.succeeded"
	SubjectRunFailed    = "classroom.run.failed"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

type RunEvent struct {
	RunID    string           `json:"runId"`
	Stamp    string           `json:"stamp"`
	Status   api.RunStatus    `json:"status"`
	Error    string           `json:"error,omitempty"`
	Machines []api.RunMachine `json:"machines"`
}

// PublishRun emits the event for a finished run on the subject matching its
// status.
func PublishRun(ctx context.Context, p Publisher, run *api.Run) error {
	subject := SubjectRunSucceeded
	if run.Status == api.RunStatusFailed {
		subject = SubjectRunFailed
	}
	b, err := json.Marshal(RunEvent{
		RunID:    run.ID,
		Stamp:    run.Stamp,
		Status:   run.Status,
		Error:    run.Error,
		Machines: run.Machines,
	})
	if err != nil {
		return err
	}
	return p.Publish(ctx, subject, b)
}

type NATSPublisher struct {
	log *logrus.Entry
	nc  *nats.Conn
}

var _ Publisher = &NATSPublisher{}

func NewNATSPublisher(log *logrus.Entry, url string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("classroom-labs"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warnf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{log: log, nc: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	if err := p.nc.Publish(subject, payload); err != nil {
		return err
	}
	return p.nc.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
	}
}
