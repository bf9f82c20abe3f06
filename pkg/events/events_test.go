package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjudeikis/classroom-labs/pkg/api"
)

type message struct {
	subject string
	payload []byte
}

type recorder struct {
	messages []message
}

func (r *recorder) Publish(ctx context.Context, subject string, payload []byte) error {
	r.messages = append(r.messages, message{subject: subject, payload: payload})
	return nil
}

func TestPublishRun(t *testing.T) {
	r := &recorder{}
	run := &api.Run{
		ID:     "run-1",
		Stamp:  "20241209090000",
		Status: api.RunStatusSucceeded,
		Machines: []api.RunMachine{
			{ID: "i-1", PublicAddress: "1.2.3.4", Usernames: []string{"a", "b"}},
		},
	}
	require.NoError(t, PublishRun(context.Background(), r, run))

	run.Status = api.RunStatusFailed
	run.Error = "boom"
	require.NoError(t, PublishRun(context.Background(), r, run))

	require.Len(t, r.messages, 2)
	assert.Equal(t, SubjectRunSucceeded, r.messages[0].subject)
	assert.Equal(t, SubjectRunFailed, r.messages[1].subject)

	var ev RunEvent
	require.NoError(t, json.Unmarshal(r.messages[1].payload, &ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "boom", ev.Error)
	assert.Equal(t, []string{"a", "b"}, ev.Machines[0].Usernames)
	assert.NotContains(t, string(r.messages[0].payload), "password")
}
