package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/dispatcher"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/event"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu         sync.Mutex
	messages   []published
	publishErr error
	drained    bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.messages = append(c.messages, published{subject: subject, data: data})
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func poApproved() *event.Event {
	return event.NewTransitionAccepted(event.TransitionAccepted{
		EntityType: entity.EntityPurchaseOrder,
		EntityID:   42,
		From:       "pending_approval",
		To:         "approved",
		Action:     "approve",
		Actor:      "u-hoo",
		Revision:   3,
	})
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "plant1", zap.NewNop())

	evt := poApproved()
	require.NoError(t, p.Publish(context.Background(), evt))

	require.Len(t, conn.messages, 1)
	assert.Equal(t, "plant1.purchase_order.transition.accepted", conn.messages[0].subject)

	var got event.Event
	require.NoError(t, json.Unmarshal(conn.messages[0].data, &got))
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, int64(42), got.EntityID)
	assert.Equal(t, "u-hoo", got.Actor)

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}

func TestNATSPublisher_DefaultPrefixAndErrors(t *testing.T) {
	conn := &fakeConn{publishErr: errors.New("no responders")}
	p := NewNATSPublisher(conn, "", zap.NewNop())

	assert.Equal(t, DefaultSubjectPrefix+".purchase_order.transition.accepted", p.SubjectFor(poApproved()))
	assert.Error(t, p.Publish(context.Background(), poApproved()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, poApproved()), context.Canceled)
}

func TestForward_SwallowsPublishErrors(t *testing.T) {
	conn := &fakeConn{publishErr: errors.New("broker down")}
	d := dispatcher.NewDispatcher()
	Forward(d, NewNATSPublisher(conn, "x", zap.NewNop()), zap.NewNop())

	assert.NoError(t, d.Dispatch(context.Background(), poApproved()))
}

func TestForward_DeliversEveryType(t *testing.T) {
	conn := &fakeConn{}
	d := dispatcher.NewDispatcher()
	Forward(d, NewNATSPublisher(conn, "x", zap.NewNop()), zap.NewNop())

	require.NoError(t, d.Dispatch(context.Background(), poApproved()))
	require.NoError(t, d.Dispatch(context.Background(),
		event.NewEvent(event.TypeApprovalEscalated, entity.EntityWorkflowInstance, 7, map[string]interface{}{"step": 1})))

	require.Len(t, conn.messages, 2)
	assert.Equal(t, "x.workflow_instance."+event.TypeApprovalEscalated.String(), conn.messages[1].subject)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	assert.NoError(t, n.Publish(context.Background(), poApproved()))
	assert.NoError(t, n.Close())
}
