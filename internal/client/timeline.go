// Package client keeps a trip's chat view consistent with the server:
// confirmed history plus optimistic sends, merged without duplicates.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ammar1510/tripchat/internal/models"
	chat "github.com/ammar1510/tripchat/internal/websocket"
)

// TempIDPrefix marks ids that were never assigned by the server.
const TempIDPrefix = "tmp-"

// Entry is one rendered line of the chat view.
type Entry struct {
	ID        string
	Sender    models.Sender
	Text      string
	CreatedAt time.Time
	Pending   bool
}

func confirmedEntry(m *models.Message) Entry {
	return Entry{
		ID:        m.ID.String(),
		Sender:    m.Sender,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}

// Viewport is the scroll position, measured from the top of the content.
type Viewport struct {
	Offset float64
}

// Measure returns the rendered height of a view.
type Measure func(view []Entry) float64

// Fetcher loads the page of messages older than before ("" for newest).
type Fetcher func(ctx context.Context, tripID uuid.UUID, before string) (*models.MessagePage, error)

type Option func(*Timeline)

// WithMeasure enables scroll preservation when older pages are prepended.
func WithMeasure(m Measure) Option {
	return func(t *Timeline) { t.measure = m }
}

// Timeline is the client-side model of one trip's chat. It is safe for
// concurrent use.
type Timeline struct {
	mu sync.Mutex

	tripID uuid.UUID
	self   models.Sender

	confirmed  []*models.Message
	seen       map[uuid.UUID]struct{}
	optimistic []Entry

	hasMore  bool
	loading  bool
	viewport Viewport
	measure  Measure
}

func NewTimeline(tripID uuid.UUID, self models.Sender, opts ...Option) *Timeline {
	t := &Timeline{
		tripID:  tripID,
		self:    self,
		seen:    make(map[uuid.UUID]struct{}),
		hasMore: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Timeline) TripID() uuid.UUID { return t.tripID }

// View is the confirmed history followed by pending sends.
func (t *Timeline) View() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *Timeline) viewLocked() []Entry {
	view := make([]Entry, 0, len(t.confirmed)+len(t.optimistic))
	for _, m := range t.confirmed {
		view = append(view, confirmedEntry(m))
	}
	return append(view, t.optimistic...)
}

// Send records an optimistic entry. Its ID travels to the server as the
// clientMessageId so the echo and the ack can find it.
func (t *Timeline) Send(text string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := Entry{
		ID:        TempIDPrefix + uuid.NewString(),
		Sender:    t.self,
		Text:      text,
		CreatedAt: time.Now().UTC(),
		Pending:   true,
	}
	t.optimistic = append(t.optimistic, entry)
	return entry
}

// ReceiveBroadcast merges a message pushed by the server. It reports false
// for duplicates and for other trips' messages.
func (t *Timeline) ReceiveBroadcast(m *models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.TripID != t.tripID {
		return false
	}
	if m.ClientMessageID != "" {
		t.dropOptimisticLocked(m.ClientMessageID)
	}
	return t.confirmLocked(m)
}

func (t *Timeline) confirmLocked(m *models.Message) bool {
	if _, dup := t.seen[m.ID]; dup {
		return false
	}
	t.seen[m.ID] = struct{}{}
	t.confirmed = append(t.confirmed, m)
	return true
}

func (t *Timeline) dropOptimisticLocked(tempID string) (Entry, bool) {
	_, idx, found := lo.FindIndexOf(t.optimistic, func(e Entry) bool { return e.ID == tempID })
	if !found {
		return Entry{}, false
	}
	entry := t.optimistic[idx]
	t.optimistic = append(t.optimistic[:idx], t.optimistic[idx+1:]...)
	return entry, true
}

// Acknowledge settles the optimistic entry tempID. On success the entry is
// confirmed under the server's id, so a broadcast that arrives later is a
// duplicate; on failure it is removed.
func (t *Timeline) Acknowledge(tempID string, ack chat.Ack) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, found := t.dropOptimisticLocked(tempID)
	if !found || !ack.Success {
		return
	}
	id, err := uuid.Parse(ack.MessageID)
	if err != nil {
		return
	}
	createdAt := entry.CreatedAt
	if ack.CreatedAt != nil {
		createdAt = *ack.CreatedAt
	}
	t.confirmLocked(&models.Message{
		ID:              id,
		TripID:          t.tripID,
		SenderID:        t.self.ID,
		Sender:          t.self,
		Text:            entry.Text,
		CreatedAt:       createdAt,
		ClientMessageID: tempID,
	})
}

// Discard removes an optimistic entry whose send never reached the server.
func (t *Timeline) Discard(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropOptimisticLocked(tempID)
}

// HasMore reports whether older history may exist.
func (t *Timeline) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// Cursor is the id of the oldest confirmed message, or "".
func (t *Timeline) Cursor() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursorLocked()
}

func (t *Timeline) cursorLocked() string {
	if len(t.confirmed) == 0 {
		return ""
	}
	return t.confirmed[0].ID.String()
}

func (t *Timeline) Viewport() Viewport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewport
}

func (t *Timeline) ScrollTo(offset float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viewport.Offset = offset
}

// LoadOlder prepends the page before the current cursor. A call made while
// another is in flight returns immediately without fetching. It returns the
// number of messages added.
func (t *Timeline) LoadOlder(ctx context.Context, fetch Fetcher) (int, error) {
	t.mu.Lock()
	if t.loading || !t.hasMore {
		t.mu.Unlock()
		return 0, nil
	}
	t.loading = true
	cursor := t.cursorLocked()
	t.mu.Unlock()

	page, err := fetch(ctx, t.tripID, cursor)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = false
	if err != nil {
		return 0, err
	}

	var before float64
	if t.measure != nil {
		before = t.measure(t.viewLocked())
	}

	older := lo.Filter(page.Messages, func(m *models.Message, _ int) bool {
		if m.TripID != t.tripID {
			return false
		}
		if _, dup := t.seen[m.ID]; dup {
			return false
		}
		t.seen[m.ID] = struct{}{}
		return true
	})
	t.confirmed = append(older, t.confirmed...)
	t.hasMore = page.HasMore

	if t.measure != nil && len(older) > 0 {
		t.viewport.Offset += t.measure(t.viewLocked()) - before
	}
	return len(older), nil
}
