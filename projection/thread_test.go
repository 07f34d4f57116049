package projection

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"listing-dm/domain"
)

func msgAt(sender, receiver, content string, at time.Time) domain.Message {
	return domain.Message{
		ID:         uuid.New().String(),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  at,
	}
}

func TestThread_Insert_ReordersOutOfOrderArrivals(t *testing.T) {
	req := require.New(t)
	thread := NewThread("u2")
	base := time.Now().UTC()

	m1 := msgAt("u2", "u1", "first", base)
	m2 := msgAt("u1", "u2", "second", base.Add(1*time.Second))
	m3 := msgAt("u2", "u1", "third", base.Add(2*time.Second))

	// Delivered t3, t1, t2
	for _, m := range []domain.Message{m3, m1, m2} {
		prior, replaced := thread.Insert(m)
		req.Nil(prior)
		req.False(replaced)
	}

	got := thread.Messages()
	req.Len(got, 3)
	req.Equal("first", got[0].Content)
	req.Equal("second", got[1].Content)
	req.Equal("third", got[2].Content)
}

func TestThread_Insert_SameIDReplacesInPlace(t *testing.T) {
	req := require.New(t)
	thread := NewThread("u2")

	m := msgAt("u1", "u2", "hello", time.Now().UTC())
	m.Provisional = true
	m.Delivery = domain.Pending

	_, replaced := thread.Insert(m)
	req.False(replaced)

	confirmed := m
	confirmed.Provisional = false
	confirmed.Delivery = domain.Sent

	prior, replaced := thread.Insert(confirmed)
	req.True(replaced)
	req.True(prior.Provisional)
	req.Equal(1, thread.Len())

	got, ok := thread.Get(m.ID)
	req.True(ok)
	req.False(got.Provisional)
}

func TestThread_Insert_DedupsOptimisticEchoByTuple(t *testing.T) {
	req := require.New(t)
	thread := NewThread("u2")
	at := time.Now().UTC()

	provisional := msgAt("u1", "u2", "Bonjour", at)
	provisional.Provisional = true
	provisional.Delivery = domain.Pending
	thread.Insert(provisional)

	// The store assigned its own id and nudged the timestamp.
	echo := msgAt("u1", "u2", "Bonjour", at.Add(300*time.Millisecond))

	prior, replaced := thread.Insert(echo)
	req.True(replaced)
	req.Equal(provisional.ID, prior.ID)
	req.Equal(1, thread.Len())

	_, stillThere := thread.Get(provisional.ID)
	req.False(stillThere)
	confirmed, ok := thread.Get(echo.ID)
	req.True(ok)
	req.False(confirmed.Provisional)
}

func TestThread_Insert_TupleMatchOutsideToleranceAppends(t *testing.T) {
	req := require.New(t)
	thread := NewThread("u2")
	at := time.Now().UTC()

	provisional := msgAt("u1", "u2", "ok", at)
	provisional.Provisional = true
	thread.Insert(provisional)

	late := msgAt("u1", "u2", "ok", at.Add(30*time.Second))
	_, replaced := thread.Insert(late)
	req.False(replaced)
	req.Equal(2, thread.Len())
}

func TestThread_Update_IsReadIsMonotonic(t *testing.T) {
	req := require.New(t)
	thread := NewThread("u2")

	m := msgAt("u2", "u1", "salut", time.Now().UTC())
	m.IsRead = true
	thread.Insert(m)

	reverted := m
	reverted.IsRead = false
	_, ok := thread.Update(reverted)
	req.True(ok)

	got, _ := thread.Get(m.ID)
	req.True(got.IsRead)
}

func TestThread_UnreadInboundIDs_SkipsOutboundAndRead(t *testing.T) {
	req := require.New(t)
	thread := NewThread("u2")
	base := time.Now().UTC()

	outbound := msgAt("u1", "u2", "sent by me", base)
	unread := msgAt("u2", "u1", "unread", base.Add(time.Second))
	read := msgAt("u2", "u1", "read", base.Add(2*time.Second))
	read.IsRead = true

	thread.Insert(outbound)
	thread.Insert(unread)
	thread.Insert(read)

	ids := thread.UnreadInboundIDs("u1")
	req.Equal([]string{unread.ID}, ids)
}

func TestThread_Replace_RebuildsOrderedContent(t *testing.T) {
	req := require.New(t)
	thread := NewThread("u2")
	base := time.Now().UTC()

	thread.Insert(msgAt("u1", "u2", "stale", base))

	fresh := []domain.Message{
		msgAt("u2", "u1", "b", base.Add(2*time.Second)),
		msgAt("u1", "u2", "a", base.Add(1*time.Second)),
	}
	thread.Replace(fresh)

	got := thread.Messages()
	req.Len(got, 2)
	req.Equal("a", got[0].Content)
	req.Equal("b", got[1].Content)
}
