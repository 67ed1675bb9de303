package pager

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/possync/internal/models"
)

// fakeReceiver records delivered events; dead receivers refuse delivery.
type fakeReceiver struct {
	events []*models.PagerEvent
	dead   bool
}

func (r *fakeReceiver) Deliver(evt *models.PagerEvent) bool {
	if r.dead {
		return false
	}
	r.events = append(r.events, evt)
	return true
}

func post(t *testing.T, s *Service, evt models.PagerEvent) *models.PagerEvent {
	t.Helper()
	posted, err := s.Post(&evt)
	require.NoError(t, err)
	return posted
}

func TestPostValidation(t *testing.T) {
	s := NewService()

	_, err := s.Post(&models.PagerEvent{TargetPin: "1234", Message: "hi"})
	assert.Error(t, err, "missing tenant")

	_, err = s.Post(&models.PagerEvent{TenantID: "t1", TargetPin: "1234"})
	assert.Error(t, err, "missing message")

	_, err = s.Post(&models.PagerEvent{TenantID: "t1", Message: "hi"})
	assert.Error(t, err, "missing target")

	posted, err := s.Post(&models.PagerEvent{TenantID: "t1", TargetPin: "1234", Message: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, posted.ID)
	assert.NotZero(t, posted.CreatedAt)
}

// TestBacklogReplayFIFO covers the core replay property: pages posted
// before any connection exists are delivered in posting order when a
// matching device registers.
func TestBacklogReplayFIFO(t *testing.T) {
	s := NewService()

	for i := 0; i < 3; i++ {
		post(t, s, models.PagerEvent{
			TenantID:  "t1",
			TargetPin: "1234",
			Message:   fmt.Sprintf("page %d", i),
		})
	}

	r := &fakeReceiver{}
	s.Register(Identity{TenantID: "t1", PIN: "1234"}, r)

	require.Len(t, r.events, 3)
	for i, evt := range r.events {
		assert.Equal(t, fmt.Sprintf("page %d", i), evt.Message)
	}
}

// TestBacklogBounded verifies only the most recent 10 pages survive.
func TestBacklogBounded(t *testing.T) {
	s := NewService()

	for i := 0; i < 12; i++ {
		post(t, s, models.PagerEvent{
			TenantID:  "t1",
			TargetPin: "1234",
			Message:   fmt.Sprintf("page %d", i),
		})
	}

	r := &fakeReceiver{}
	s.Register(Identity{TenantID: "t1", PIN: "1234"}, r)

	require.Len(t, r.events, 10)
	assert.Equal(t, "page 2", r.events[0].Message, "oldest two evicted")
	assert.Equal(t, "page 11", r.events[9].Message)
}

// TestLiveDelivery verifies a registered receiver gets pages as they
// are posted, and that the page stays buffered until acknowledged.
func TestLiveDelivery(t *testing.T) {
	s := NewService()

	r := &fakeReceiver{}
	identity := Identity{TenantID: "t1", Role: "kitchen"}
	s.Register(identity, r)

	evt := post(t, s, models.PagerEvent{TenantID: "t1", TargetRole: "kitchen", Message: "order up"})
	require.Len(t, r.events, 1)

	assert.Equal(t, 1, s.Pending(identity), "undelivered until acked")
	assert.True(t, s.AckFrom(identity, evt.ID.String()))
	assert.Equal(t, 0, s.Pending(identity))
}

// TestIdentityScopedAck verifies that acking under one key leaves an
// independent copy under another key untouched.
func TestIdentityScopedAck(t *testing.T) {
	s := NewService()

	evt := post(t, s, models.PagerEvent{
		TenantID:   "t1",
		TargetPin:  "1234",
		TargetRole: "manager",
		Message:    "count the drawer",
	})

	pinID := Identity{TenantID: "t1", PIN: "1234"}
	roleID := Identity{TenantID: "t1", Role: "manager"}

	require.True(t, s.AckFrom(pinID, evt.ID.String()))
	assert.Nil(t, s.Latest(pinID))
	assert.NotNil(t, s.Latest(roleID), "role copy must survive a pin-scoped ack")
}

// TestTenantWideAck verifies the HTTP ack path removes the page from
// every key in the tenant and repeat acks stay idempotent.
func TestTenantWideAck(t *testing.T) {
	s := NewService()

	evt := post(t, s, models.PagerEvent{
		TenantID:   "t1",
		TargetPin:  "1234",
		TargetRole: "manager",
		Message:    "count the drawer",
	})

	assert.False(t, s.Ack("t1", "no-such-id"))
	assert.False(t, s.Ack("t2", evt.ID.String()), "wrong tenant must not ack")

	require.True(t, s.Ack("t1", evt.ID.String()))
	assert.Nil(t, s.Latest(Identity{TenantID: "t1", PIN: "1234"}))
	assert.Nil(t, s.Latest(Identity{TenantID: "t1", Role: "manager"}))

	assert.True(t, s.Ack("t1", evt.ID.String()), "re-ack of a known id succeeds")
}

// TestLatestPrefersPinKey verifies GET relevance: a page addressed to
// the caller's PIN outranks one addressed to their role.
func TestLatestPrefersPinKey(t *testing.T) {
	s := NewService()

	post(t, s, models.PagerEvent{TenantID: "t1", TargetRole: "cashier", Message: "role page"})
	post(t, s, models.PagerEvent{TenantID: "t1", TargetPin: "1234", Message: "pin page"})

	evt := s.Latest(Identity{TenantID: "t1", PIN: "1234", Role: "cashier"})
	require.NotNil(t, evt)
	assert.Equal(t, "pin page", evt.Message)
}

// TestDeadReceiverRemoved verifies a receiver that refuses delivery is
// dropped from every key.
func TestDeadReceiverRemoved(t *testing.T) {
	s := NewService()

	r := &fakeReceiver{dead: true}
	identity := Identity{TenantID: "t1", PIN: "1234", Role: "cashier"}
	s.Register(identity, r)

	post(t, s, models.PagerEvent{TenantID: "t1", TargetPin: "1234", Message: "hello?"})

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.NotContains(t, s.identities, Receiver(r))
	for key, set := range s.conns {
		assert.NotContains(t, set, Receiver(r), "still registered under %s", key)
	}
}

// TestRolePagePostGetAckCycle runs the role-targeted scenario end to
// end: post with no connections, fetch via Latest, ack, fetch again.
func TestRolePagePostGetAckCycle(t *testing.T) {
	s := NewService()

	evt := post(t, s, models.PagerEvent{
		TenantID:   "t1",
		TargetRole: "manager",
		Message:    "table 5 needs help",
	})

	identity := Identity{TenantID: "t1", Role: "manager"}
	got := s.Latest(identity)
	require.NotNil(t, got)
	assert.Equal(t, evt.ID, got.ID)

	require.True(t, s.Ack("t1", evt.ID.String()))
	assert.Nil(t, s.Latest(identity))
}
