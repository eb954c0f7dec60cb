package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/procure-approval/internal/domain/event"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs       []published
	publishErr error
	flushErr   error
	drained    bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func (f *fakeConn) FlushWithContext(ctx context.Context) error { return f.flushErr }
func (f *fakeConn) Drain() error                               { f.drained = true; return nil }
func (f *fakeConn) IsConnected() bool                          { return !f.drained }

func approvedEvent() *event.Event {
	return event.NewEvent(event.TypeApprovalApproved, "inst-1", map[string]interface{}{
		"document_id":   "PR-1001",
		"document_kind": "purchase_request",
		"opened_by":     "U1",
		"actor_user_id": "U7",
		"finalize":      true,
	})
}

func TestPublisher_PublishesOnEventSubject(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, Config{SubjectPrefix: "notifications.procurement."}, zap.NewNop())

	p.NotifyApprovalEvent(context.Background(), approvedEvent())

	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "notifications.procurement.approved", fc.msgs[0].subject)

	var body NotificationEvent
	require.NoError(t, json.Unmarshal(fc.msgs[0].data, &body))
	assert.Equal(t, "approval.approved", body.EventType)
	assert.Equal(t, "inst-1", body.InstanceID)
	assert.Equal(t, "U7", body.ActorID)
	assert.Equal(t, []string{"U1"}, body.Recipients)
	assert.Equal(t, "purchase_request", body.ResourceType)
	assert.Equal(t, "PR-1001", body.ResourceID)
	assert.False(t, body.IsActionable)
	assert.Equal(t, true, body.Payload["finalize"])
}

func TestPublisher_Subjects(t *testing.T) {
	p := newPublisher(&fakeConn{}, Config{}, zap.NewNop())
	assert.Equal(t, "notifications.procurement.opened", p.Subject(event.TypeApprovalOpened))
	assert.Equal(t, "notifications.procurement.rejected", p.Subject(event.TypeApprovalRejected))
}

func TestPublisher_FailuresAreSwallowed(t *testing.T) {
	fc := &fakeConn{publishErr: errors.New("nats: connection closed")}
	p := newPublisher(fc, Config{}, zap.NewNop())

	assert.NotPanics(t, func() {
		p.NotifyApprovalEvent(context.Background(), approvedEvent())
	})
	assert.NoError(t, p.Handle(context.Background(), approvedEvent()))

	fc.publishErr = nil
	fc.flushErr = context.DeadlineExceeded
	assert.NoError(t, p.Handle(context.Background(), approvedEvent()))
}

func TestPublisher_NilSafe(t *testing.T) {
	var p *Publisher
	p.NotifyApprovalEvent(context.Background(), approvedEvent())
	assert.False(t, p.Healthy())
	assert.NoError(t, p.Close())
}

func TestPublisher_Close(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, Config{}, zap.NewNop())
	assert.True(t, p.Healthy())
	require.NoError(t, p.Close())
	assert.True(t, fc.drained)
	assert.False(t, p.Healthy())
}

func TestToNotification_Actionable(t *testing.T) {
	n := toNotification(event.NewEvent(event.TypeApprovalAdvanced, "inst-2", map[string]interface{}{"opened_by": "U1"}))
	assert.True(t, n.IsActionable)
	assert.Empty(t, n.Recipients, "requester is told only when the approval ends")

	n = toNotification(event.NewEvent(event.TypeApprovalRejected, "inst-2", map[string]interface{}{"opened_by": "U1"}))
	assert.Equal(t, "warning", n.Severity)
	assert.Equal(t, []string{"U1"}, n.Recipients)
}
