package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/logger"
	"hirenest-chat/internal/models"
	"hirenest-chat/internal/session"
)

// State is the lifecycle position of a Stream
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLive
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	default:
		return "idle"
	}
}

const (
	tempIDPrefix    = "temp-"
	deliveryTimeout = 30 * time.Second
	markReadTimeout = 10 * time.Second
)

// StreamOption configures a Stream
type StreamOption func(*Stream)

// WithReconcileMode sets how confirmations are matched to placeholders
func WithReconcileMode(mode ReconcileMode) StreamOption {
	return func(s *Stream) { s.mode = mode }
}

// WithOnSent registers a hook run after each completed delivery, typically a thread list refresh
func WithOnSent(fn func(threadID string)) StreamOption {
	return func(s *Stream) { s.onSent = fn }
}

// WithStreamLogger sets the logger
func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(s *Stream) { s.log = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) StreamOption {
	return func(s *Stream) { s.now = now }
}

// Stream is the message view of one open thread for one user.
// All list mutations (history load, local send, feed merge) happen under mu.
type Stream struct {
	gw      gateway.Gateway
	me      session.Identity
	deliver *Deliverer
	mode    ReconcileMode
	onSent  func(threadID string)
	log     *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	state      State
	threadID   string
	messages   []models.ChatMessage
	draft      string
	generation uint64
	sub        *gateway.Subscription
	cancel     context.CancelFunc
	counted    bool

	changes chan struct{}
	wg      sync.WaitGroup
}

// NewStream creates an idle stream acting as me
func NewStream(gw gateway.Gateway, me session.Identity, opts ...StreamOption) *Stream {
	s := &Stream{
		gw:      gw,
		me:      me,
		mode:    MatchClientID,
		now:     time.Now,
		changes: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDefault(s.log).With("component", "stream", "user_id", me.UserID)
	s.deliver = NewDeliverer(gw, s.log)
	s.deliver.now = s.now
	return s
}

// Open binds the stream to threadID, releasing any previous thread first.
//
// The feed is subscribed before history is read so nothing inserted meanwhile is
// lost; feed rows already in the history are skipped. History and subscription
// failures are logged and leave an empty or non-realtime view. The subscription
// lives until Close, the next Open, or the end of ctx.
func (s *Stream) Open(ctx context.Context, threadID string) error {
	if threadID == "" {
		return errors.New("thread id is required")
	}
	s.release()

	feedCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = StateLoading
	s.threadID = threadID
	s.messages = nil
	s.cancel = cancel
	if !s.counted {
		s.counted = true
		openStreams.Inc()
	}
	s.mu.Unlock()
	s.notify()

	sub, err := s.gw.Subscribe(feedCtx, gateway.SubscribeRequest{
		Collection: gateway.Messages,
		Events:     []gateway.ChangeType{gateway.ChangeInsert},
		Filters:    []gateway.Filter{gateway.Eq("thread_id", threadID)},
	})
	if err != nil {
		absorb(s.log, "subscribe", err, "thread_id", threadID)
		sub = nil
	}

	history, skipped, err := LoadHistory(ctx, s.gw, threadID)
	if err != nil {
		absorb(s.log, "load_history", err, "thread_id", threadID)
	}
	if skipped > 0 {
		s.log.Warn("skipped malformed messages", "thread_id", threadID, "count", skipped)
	}

	s.mu.Lock()
	if gen != s.generation {
		// Closed or reopened while loading
		s.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		return nil
	}
	// Sends made while loading stay after the history unless it already holds them
	s.messages = withHistory(history, s.messages, s.mode)
	s.sub = sub
	s.state = StateLive
	s.mu.Unlock()
	s.notify()

	if sub != nil {
		s.wg.Add(1)
		go s.pump(feedCtx, gen, sub)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markReadTimeout)
		defer cancel()
		n, err := MarkRead(mctx, s.gw, threadID, s.me.UserID, s.now())
		if err != nil {
			s.log.Debug("mark read skipped", "thread_id", threadID, "error", err)
			absorbedErrors.WithLabelValues("mark_read").Inc()
			return
		}
		s.log.Debug("marked read", "thread_id", threadID, "count", n)
	}()

	s.log.Info("thread opened", "thread_id", threadID, "history", len(history), "realtime", sub != nil)
	return nil
}

// pump merges feed events until the subscription ends
func (s *Stream) pump(ctx context.Context, gen uint64, sub *gateway.Subscription) {
	defer s.wg.Done()

	for change := range sub.Events() {
		msg, err := messageFromRow(change.Row)
		if err != nil {
			s.log.Warn("dropping malformed feed row", "error", err)
			continue
		}
		s.merge(gen, msg)
	}

	if ctx.Err() == nil {
		s.log.Warn("message feed ended", "generation", gen)
	}
}

// merge applies one confirmed message as a single read-modify-write
func (s *Stream) merge(gen uint64, msg models.Message) {
	s.mu.Lock()
	if gen != s.generation || msg.ThreadID != s.threadID {
		s.mu.Unlock()
		return
	}
	var result mergeResult
	s.messages, result = reconcile(s.messages, msg, s.mode)
	s.mu.Unlock()

	reconciliations.WithLabelValues(string(result)).Inc()
	if result != mergeDuplicate {
		s.notify()
	}
}

// Send appends an optimistic message immediately and delivers it in the
// background. It reports whether anything was queued: blank text, or a stream
// not bound to a thread, is a no-op.
func (s *Stream) Send(text string) bool {
	s.mu.Lock()
	out, ok := s.queueLocked(text)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.notify()
	s.dispatch(out)
	return true
}

// SetDraft replaces the compose box content
func (s *Stream) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// Draft returns the compose box content
func (s *Stream) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SubmitDraft sends the draft and clears it in the same step
func (s *Stream) SubmitDraft() bool {
	s.mu.Lock()
	out, ok := s.queueLocked(s.draft)
	if ok {
		s.draft = ""
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.notify()
	s.dispatch(out)
	return true
}

// queueLocked appends the placeholder. Caller holds mu.
func (s *Stream) queueLocked(text string) (Outgoing, bool) {
	content := strings.TrimSpace(text)
	if content == "" || s.threadID == "" || s.me.UserID == "" || s.state == StateIdle {
		return Outgoing{}, false
	}

	out := Outgoing{
		ThreadID: s.threadID,
		SenderID: s.me.UserID,
		Content:  content,
	}
	if s.mode == MatchClientID {
		out.ClientID = uuid.NewString()
	}

	s.messages = append(s.messages, models.ChatMessage{
		Message: models.Message{
			ID:        tempIDPrefix + uuid.NewString(),
			ThreadID:  out.ThreadID,
			SenderID:  out.SenderID,
			ClientID:  out.ClientID,
			Content:   content,
			CreatedAt: s.now().UTC(),
		},
		Optimistic: true,
	})
	return out, true
}

// dispatch delivers out in the background. Delivery outlives the open thread:
// a send is not abandoned because the user switched threads.
func (s *Stream) dispatch(out Outgoing) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		if _, err := s.deliver.Deliver(ctx, out); err != nil {
			absorb(s.log, "send", err, "thread_id", out.ThreadID)
			return
		}
		if s.onSent != nil {
			s.onSent(out.ThreadID)
		}
	}()
}

// Close releases the open thread and returns the stream to idle. Safe to call repeatedly.
func (s *Stream) Close() {
	s.release()
	s.notify()
}

func (s *Stream) release() {
	s.mu.Lock()
	s.generation++
	sub, cancel := s.sub, s.cancel
	s.sub, s.cancel = nil, nil
	s.state = StateIdle
	s.threadID = ""
	s.messages = nil
	if s.counted {
		s.counted = false
		openStreams.Dec()
	}
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until background deliveries, mark-read and the feed pump have finished.
// Call after Close to join everything.
func (s *Stream) Wait() {
	s.wg.Wait()
}

// Messages returns a snapshot of the visible messages
func (s *Stream) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Changes signals after the message list or state changed. Signals coalesce;
// read Messages to get the current view, then scroll to its end.
func (s *Stream) Changes() <-chan struct{} {
	return s.changes
}

// State returns the lifecycle state
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ThreadID returns the open thread, or "" when idle
func (s *Stream) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

func (s *Stream) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
