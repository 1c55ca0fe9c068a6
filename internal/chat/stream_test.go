package chat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hirenest-chat/internal/db"
	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/gateway/sqlgw"
	"hirenest-chat/internal/logger"
	"hirenest-chat/internal/models"
)

const eventually = 2 * time.Second

func openStream(t *testing.T, gw gateway.Gateway, threadID string, opts ...StreamOption) *Stream {
	t.Helper()
	opts = append([]StreamOption{WithStreamLogger(logger.Discard())}, opts...)
	s := NewStream(gw, customer, opts...)
	require.NoError(t, s.Open(context.Background(), threadID))
	t.Cleanup(func() {
		s.Close()
		s.Wait()
	})
	return s
}

func confirmedRow(threadID, id, sender, content string) gateway.Row {
	return gateway.Row{
		"id":         id,
		"thread_id":  threadID,
		"sender_id":  sender,
		"content":    content,
		"created_at": ts("10:00"),
	}
}

func publishInsert(feed *sqlgw.Gateway, row gateway.Row) {
	feed.Feed().Publish(gateway.Change{Type: gateway.ChangeInsert, Collection: gateway.Messages, Row: row})
}

func TestStream_SubmitDraftIsImmediate(t *testing.T) {
	inner := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, inner, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	stub := newStub(inner)
	stub.gate = make(chan struct{})

	s := openStream(t, stub, thread)
	s.SetDraft("  hello  ")

	require.True(t, s.SubmitDraft())

	// Delivery is blocked: the placeholder and the cleared draft are visible already
	assert.Equal(t, "", s.Draft())
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Optimistic)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, customer.UserID, msgs[0].SenderID)
	assert.Contains(t, msgs[0].ID, tempIDPrefix)

	close(stub.gate)

	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && !msgs[0].Optimistic
	}, eventually, 10*time.Millisecond)

	msgs = s.Messages()
	assert.Equal(t, "hello", msgs[0].Content)
	assert.NotContains(t, msgs[0].ID, tempIDPrefix)
	assert.Equal(t, provider.UserID, msgs[0].RecipientID)
}

func TestStream_HelloScenario(t *testing.T) {
	for _, mode := range []ReconcileMode{MatchClientID, MatchContent} {
		t.Run(string(mode), func(t *testing.T) {
			inner := setupGateway(t, db.Schema{ThreadViews: true})
			thread := createThread(t, inner, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
			stub := newStub(inner)
			// The real insert never lands; confirmation is simulated on the feed
			stub.insertErr = func(collection string, _ gateway.Row) error {
				if collection == gateway.Messages {
					return errGatewayDown
				}
				return nil
			}

			s := openStream(t, stub, thread, WithReconcileMode(mode))
			require.True(t, s.Send("hello"))

			msgs := s.Messages()
			require.Len(t, msgs, 1)
			assert.True(t, msgs[0].Optimistic)

			publishInsert(inner, confirmedRow(thread, "m-1", customer.UserID, "hello"))

			require.Eventually(t, func() bool {
				msgs := s.Messages()
				return len(msgs) == 1 && !msgs[0].Optimistic
			}, eventually, 10*time.Millisecond)
			assert.Equal(t, "m-1", s.Messages()[0].ID)
		})
	}
}

func TestStream_SendConfirmedWhileHistoryLoadsAppearsOnce(t *testing.T) {
	for _, mode := range []ReconcileMode{MatchClientID, MatchContent} {
		t.Run(string(mode), func(t *testing.T) {
			inner := setupGateway(t, db.Schema{ThreadViews: true})
			thread := createThread(t, inner, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
			createMessage(t, inner, gateway.Row{
				"thread_id":  thread,
				"sender_id":  provider.UserID,
				"content":    "earlier",
				"created_at": ts("09:30"),
			})
			stub := newStub(inner)
			stub.historyGate = make(chan struct{})
			stub.historyStarted = make(chan struct{})

			sent := make(chan string, 1)
			s := NewStream(stub, customer,
				WithStreamLogger(logger.Discard()),
				WithReconcileMode(mode),
				WithOnSent(func(id string) { sent <- id }),
			)
			t.Cleanup(func() {
				s.Close()
				s.Wait()
			})

			opened := make(chan error, 1)
			go func() { opened <- s.Open(context.Background(), thread) }()

			select {
			case <-stub.historyStarted:
			case <-time.After(eventually):
				t.Fatal("history query not issued")
			}
			assert.Equal(t, StateLoading, s.State())
			require.True(t, s.Send("hello"))

			// The send is stored before history is read
			select {
			case <-sent:
			case <-time.After(eventually):
				t.Fatal("send not delivered")
			}
			close(stub.historyGate)
			require.NoError(t, <-opened)

			// The feed copy of the same row must not bring the placeholder back either
			time.Sleep(50 * time.Millisecond)
			msgs := s.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, []string{"earlier", "hello"}, contents(msgs))
			assert.False(t, msgs[1].Optimistic)
			assert.NotContains(t, msgs[1].ID, tempIDPrefix)
		})
	}
}

func TestStream_UnrelatedMessagesDoNotConsumePlaceholder(t *testing.T) {
	inner := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, inner, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	stub := newStub(inner)
	stub.insertErr = func(string, gateway.Row) error { return errGatewayDown }

	s := openStream(t, stub, thread)
	require.True(t, s.Send("are you free tomorrow?"))

	publishInsert(inner, confirmedRow(thread, "m-1", provider.UserID, "hi there"))
	publishInsert(inner, confirmedRow(thread, "m-2", provider.UserID, "are you free tomorrow?"))
	publishInsert(inner, confirmedRow(thread, "m-3", customer.UserID, "something else"))

	require.Eventually(t, func() bool { return len(s.Messages()) == 4 }, eventually, 10*time.Millisecond)
	msgs := s.Messages()
	assert.True(t, msgs[0].Optimistic, "placeholder must survive unrelated rows")

	publishInsert(inner, confirmedRow(thread, "m-4", customer.UserID, "are you free tomorrow?"))

	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 4 && !msgs[0].Optimistic
	}, eventually, 10*time.Millisecond)

	msgs = s.Messages()
	assert.Equal(t, "m-4", msgs[0].ID, "replaced in place")
	assert.Equal(t, []string{"m-4", "m-1", "m-2", "m-3"}, ids(msgs))
}

func TestStream_OpenLoadsHistoryAscending(t *testing.T) {
	gw := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, gw, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))

	for _, m := range []struct{ at, content string }{
		{"10:30", "third"},
		{"10:00", "first"},
		{"10:15", "second"},
	} {
		createMessage(t, gw, gateway.Row{
			"thread_id": thread, "sender_id": provider.UserID, "recipient_id": customer.UserID,
			"content": m.content, "created_at": ts(m.at),
		})
	}

	s := openStream(t, gw, thread)

	assert.Equal(t, StateLive, s.State())
	assert.Equal(t, thread, s.ThreadID())
	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"first", "second", "third"}, contents(msgs))
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

func TestStream_OpenMarksOnlyOpenersMessagesRead(t *testing.T) {
	gw := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, gw, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))

	toMe := createMessage(t, gw, gateway.Row{
		"thread_id": thread, "sender_id": provider.UserID, "recipient_id": customer.UserID,
		"content": "quote attached", "created_at": ts("10:00"),
	})
	toThem := createMessage(t, gw, gateway.Row{
		"thread_id": thread, "sender_id": customer.UserID, "recipient_id": provider.UserID,
		"content": "thanks", "created_at": ts("10:01"),
	})

	s := NewStream(gw, customer, WithStreamLogger(logger.Discard()))
	require.NoError(t, s.Open(context.Background(), thread))
	s.Close()
	s.Wait()

	rows, err := gw.Query(context.Background(), gateway.Query{Collection: gateway.Messages})
	require.NoError(t, err)
	readAt := map[string]any{}
	for _, r := range rows {
		readAt[r["id"].(string)] = r["read_at"]
	}
	assert.NotNil(t, readAt[toMe])
	assert.Nil(t, readAt[toThem])
}

func TestStream_MarkReadFailureIsIgnored(t *testing.T) {
	gw := setupGateway(t, db.Schema{LegacyMessages: true, ThreadViews: true})
	thread := createThread(t, gw, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	createMessage(t, gw, gateway.Row{"thread_id": thread, "sender_id": provider.UserID, "content": "hi", "created_at": ts("10:00")})

	s := openStream(t, gw, thread)

	assert.Equal(t, StateLive, s.State())
	assert.Len(t, s.Messages(), 1)
}

func TestStream_HistoryFailureLeavesEmptyView(t *testing.T) {
	inner := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, inner, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	stub := newStub(inner)
	stub.failQuery(gateway.Messages, errGatewayDown)

	s := openStream(t, stub, thread)

	assert.Equal(t, StateLive, s.State())
	assert.Empty(t, s.Messages())

	// Realtime still works
	publishInsert(inner, confirmedRow(thread, "m-1", provider.UserID, "hello?"))
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, eventually, 10*time.Millisecond)
}

func TestStream_SubscribeFailureStillLive(t *testing.T) {
	inner := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, inner, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	createMessage(t, inner, gateway.Row{"thread_id": thread, "sender_id": provider.UserID, "content": "hi", "created_at": ts("10:00")})
	stub := newStub(inner)
	stub.subscribeErr = errGatewayDown

	s := openStream(t, stub, thread)

	assert.Equal(t, StateLive, s.State())
	assert.Len(t, s.Messages(), 1)
	assert.Equal(t, 0, inner.Feed().TotalSubscriberCount())
}

func TestStream_CloseReleasesSubscription(t *testing.T) {
	gw := setupGateway(t, db.Schema{ThreadViews: true})
	first := createThread(t, gw, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	second := createThread(t, gw, customer.UserID, "prov-2", ts("09:05"), ts("09:05"))

	s := NewStream(gw, customer, WithStreamLogger(logger.Discard()))
	require.NoError(t, s.Open(context.Background(), first))
	assert.Equal(t, 1, gw.Feed().TotalSubscriberCount())

	require.NoError(t, s.Open(context.Background(), second))
	assert.Equal(t, 1, gw.Feed().TotalSubscriberCount(), "switching threads releases the previous feed")
	assert.Equal(t, second, s.ThreadID())

	s.Close()
	s.Close()
	s.Wait()

	assert.Equal(t, 0, gw.Feed().TotalSubscriberCount())
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.ThreadID())
	assert.Empty(t, s.Messages())
}

func TestStream_ContextEndReleasesSubscription(t *testing.T) {
	gw := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, gw, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))

	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream(gw, customer, WithStreamLogger(logger.Discard()))
	require.NoError(t, s.Open(ctx, thread))

	cancel()

	require.Eventually(t, func() bool { return gw.Feed().TotalSubscriberCount() == 0 }, eventually, 10*time.Millisecond)
	s.Close()
	s.Wait()
}

func TestStream_FeedIgnoresOtherThreadsAndDuplicates(t *testing.T) {
	gw := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, gw, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	other := createThread(t, gw, customer.UserID, "prov-2", ts("09:00"), ts("09:00"))
	existing := createMessage(t, gw, gateway.Row{"thread_id": thread, "sender_id": provider.UserID, "content": "hi", "created_at": ts("10:00")})

	s := openStream(t, gw, thread)
	require.Len(t, s.Messages(), 1)

	publishInsert(gw, confirmedRow(other, "x-1", "prov-2", "wrong thread"))
	publishInsert(gw, confirmedRow(thread, existing, provider.UserID, "hi"))
	publishInsert(gw, confirmedRow(thread, "m-2", provider.UserID, "next"))

	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, eventually, 10*time.Millisecond)
	assert.Equal(t, []string{existing, "m-2"}, ids(s.Messages()))
}

func TestStream_SendNoops(t *testing.T) {
	gw := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, gw, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))

	idle := NewStream(gw, customer, WithStreamLogger(logger.Discard()))
	assert.False(t, idle.Send("hello"), "no thread open")

	s := openStream(t, gw, thread)
	assert.False(t, s.Send("   "))
	s.SetDraft("  \n ")
	assert.False(t, s.SubmitDraft())
	assert.Equal(t, "  \n ", s.Draft(), "blank draft is not cleared")
	assert.Empty(t, s.Messages())
}

func TestStream_SendFallsBackToMinimalPayload(t *testing.T) {
	inner := setupGateway(t, db.Schema{LegacyMessages: true, ThreadViews: true})
	thread := createThread(t, inner, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	stub := newStub(inner)

	s := openStream(t, stub, thread)
	require.True(t, s.Send("legacy hello"))

	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && !msgs[0].Optimistic
	}, eventually, 10*time.Millisecond)

	inserts := stub.insertedRows()
	require.Len(t, inserts, 2)
	assert.Contains(t, inserts[0], "recipient_id")
	assert.Contains(t, inserts[0], "client_id")
	assert.Len(t, inserts[1], 3)
}

func TestStream_SendFailureKeepsPlaceholder(t *testing.T) {
	inner := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, inner, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	stub := newStub(inner)
	stub.insertErr = func(string, gateway.Row) error { return errGatewayDown }

	var sent atomic.Int32
	s := openStream(t, stub, thread, WithOnSent(func(string) { sent.Add(1) }))
	require.True(t, s.Send("lost"))

	require.Eventually(t, func() bool { return len(stub.insertedRows()) == 2 }, eventually, 10*time.Millisecond)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Optimistic)
	assert.Equal(t, int32(0), sent.Load())
}

func TestStream_SendBumpsThreadAndNotifies(t *testing.T) {
	gw := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, gw, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))
	fixed := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)

	done := make(chan string, 1)
	s := openStream(t, gw, thread,
		WithClock(func() time.Time { return fixed }),
		WithOnSent(func(id string) { done <- id }),
	)
	require.True(t, s.Send("bump"))

	select {
	case id := <-done:
		assert.Equal(t, thread, id)
	case <-time.After(eventually):
		t.Fatal("OnSent not called")
	}

	th, err := LoadThread(context.Background(), gw, thread)
	require.NoError(t, err)
	assert.True(t, th.UpdatedAt.Equal(fixed), "updated_at = %v", th.UpdatedAt)
}

func TestStream_ChangesSignal(t *testing.T) {
	gw := setupGateway(t, db.Schema{ThreadViews: true})
	thread := createThread(t, gw, customer.UserID, provider.UserID, ts("09:00"), ts("09:00"))

	s := openStream(t, gw, thread)
	// Drain the signal left by Open
	select {
	case <-s.Changes():
	default:
	}

	publishInsert(gw, confirmedRow(thread, "m-1", provider.UserID, "ping"))

	select {
	case <-s.Changes():
	case <-time.After(eventually):
		t.Fatal("no change signal after merge")
	}
}

func ids(msgs []models.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func contents(msgs []models.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
