package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agent-widgets/internal/domain"
)

type stubCompleter struct {
	reply string
	err   error
	got   []domain.Message
}

func (s *stubCompleter) Complete(_ context.Context, h []domain.Message) (string, error) {
	s.got = h
	return s.reply, s.err
}

func TestSessionCompleteLogsTurn(t *testing.T) {
	t.Parallel()

	rec := &recordingLogger{}
	stub := &stubCompleter{reply: "Step 1: Welcome"}
	svc := NewService("admin", stub, rec)
	assert.Equal(t, "admin", svc.WidgetID())

	reply, err := svc.Session("visitor-1", ChannelWeb).Complete(context.Background(), history("Product Tour"))
	require.NoError(t, err)
	assert.Equal(t, "Step 1: Welcome", reply)
	assert.Len(t, stub.got, 2)

	require.Len(t, rec.events, 2)
	assert.Equal(t, EventUserMessage, rec.events[0].EventType)
	assert.Equal(t, "outbound", rec.events[0].Direction)
	assert.Equal(t, "Product Tour", rec.events[0].ContentRaw)
	assert.Equal(t, EventAssistantMessage, rec.events[1].EventType)
	assert.Equal(t, "inbound", rec.events[1].Direction)
	for _, e := range rec.events {
		assert.Equal(t, "admin", e.WidgetID)
		assert.Equal(t, "visitor-1", e.VisitorID)
		assert.Equal(t, ChannelWeb, e.Channel)
	}
}

func TestSessionCompleteLogsErrors(t *testing.T) {
	t.Parallel()

	rec := &recordingLogger{}
	stub := &stubCompleter{err: fmt.Errorf("%w: status 502", ErrAgentUnavailable)}
	svc := NewService("gu", stub, rec)

	_, err := svc.Session("v", ChannelTerminal).Complete(context.Background(), history("hi"))
	require.ErrorIs(t, err, ErrAgentUnavailable)

	require.Len(t, rec.events, 2)
	last := rec.events[1]
	assert.Equal(t, EventAgentError, last.EventType)
	assert.Equal(t, true, last.Meta["unavailable"])
}

func TestNewServiceNilLogger(t *testing.T) {
	t.Parallel()

	svc := NewService("admin", &stubCompleter{reply: "ok"}, nil)
	reply, err := svc.Session("v", ChannelWeb).Complete(context.Background(), history("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
}
