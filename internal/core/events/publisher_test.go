package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

type sent struct {
	subject string
	data    []byte
}

type fakeStream struct {
	msgs []sent
	err  error
}

func (f *fakeStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, sent{subject, payload})
	return &jetstream.PubAck{Stream: StreamName}, nil
}

func newTestPublisher(js streamPublisher) *Publisher {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Publisher{js: js, log: logger.NewNopLogger(), now: func() time.Time { return at }}
}

func TestPublisher_ItemCompleted(t *testing.T) {
	js := &fakeStream{}
	p := newTestPublisher(js)

	err := p.ItemCompleted(context.Background(), models.Progress{
		ItemID: "i1", OwnerID: "u1", Status: models.StatusCompleted, Message: "Completed",
	})
	require.NoError(t, err)
	require.Len(t, js.msgs, 1)
	assert.Equal(t, SubjectCompleted, js.msgs[0].subject)

	var ev ItemEvent
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &ev))
	assert.Equal(t, "u1", ev.OwnerID)
	assert.Empty(t, ev.Error)
	assert.Equal(t, 2026, ev.At.Year())
}

func TestPublisher_ItemFailedCarriesCause(t *testing.T) {
	js := &fakeStream{}
	p := newTestPublisher(js)

	require.NoError(t, p.ItemFailed(context.Background(), models.Progress{ItemID: "i1", Status: models.StatusFailed}, errors.New("vision timeout")))
	require.Len(t, js.msgs, 1)
	assert.Equal(t, SubjectFailed, js.msgs[0].subject)
	assert.Contains(t, string(js.msgs[0].data), "vision timeout")
}

func TestPublisher_PublishError(t *testing.T) {
	p := newTestPublisher(&fakeStream{err: errors.New("no responders")})
	err := p.ItemCompleted(context.Background(), models.Progress{ItemID: "i1"})
	assert.ErrorContains(t, err, SubjectCompleted)
}
