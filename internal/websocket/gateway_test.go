package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar1510/tripchat/internal/auth"
	"github.com/ammar1510/tripchat/internal/database"
	"github.com/ammar1510/tripchat/internal/membership"
	"github.com/ammar1510/tripchat/internal/models"
)

// world is a running gateway backed by an in-memory store with two trips.
// Ana and Cai are members of lisbon, Bo is not. Ana is also a member of porto.
type world struct {
	srv    *httptest.Server
	db     database.DBInterface
	hub    *Hub
	ana    *models.User
	bo     *models.User
	cai    *models.User
	lisbon *models.Trip
	porto  *models.Trip
}

func newWorld(t *testing.T, opts Options) *world {
	t.Helper()
	return newWorldWith(t, opts, nil, nil)
}

// newWorldWith swaps in oracle or store when they are non-nil. A store is
// handed the real database so reads and seeding still work.
func newWorldWith(t *testing.T, opts Options, oracle membership.Oracle, store func(database.DBInterface) database.MessageStore) *world {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth.InitJWTKey([]byte("test-secret"))
	ctx := context.Background()

	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	w := &world{
		db:     db,
		ana:    &models.User{Name: "Ana", Email: "ana@example.com"},
		bo:     &models.User{Name: "Bo", Email: "bo@example.com"},
		cai:    &models.User{Name: "Cai", Email: "cai@example.com"},
		lisbon: &models.Trip{Name: "Lisbon"},
		porto:  &models.Trip{Name: "Porto"},
	}
	for _, u := range []*models.User{w.ana, w.bo, w.cai} {
		require.NoError(t, db.CreateUser(ctx, u))
	}
	require.NoError(t, db.CreateTrip(ctx, w.lisbon, w.ana.ID, w.cai.ID))
	require.NoError(t, db.CreateTrip(ctx, w.porto, w.ana.ID))

	if oracle == nil {
		oracle = db
	}
	var messages database.MessageStore = db
	if store != nil {
		messages = store(db)
	}
	w.hub = NewHub()
	gateway := NewGateway(w.hub, messages, oracle, nil, opts)

	router := gin.New()
	router.GET("/ws", gateway.ServeWS)
	w.srv = httptest.NewServer(router)

	t.Cleanup(func() {
		w.srv.Close()
		w.hub.Close()
		db.Close()
	})
	return w
}

func (w *world) url() string {
	return "ws" + strings.TrimPrefix(w.srv.URL, "http") + "/ws"
}

func tokenFor(t *testing.T, u *models.User) string {
	t.Helper()
	token, _, err := auth.GenerateToken(u)
	require.NoError(t, err)
	return token
}

// peer is a test connection that keeps frames it has not been asked about
// yet, so assertions can wait for a specific frame without losing others.
type peer struct {
	t       *testing.T
	conn    *websocket.Conn
	frames  chan Envelope
	pending []Envelope
	nextAck int64
}

func (w *world) connect(t *testing.T, u *models.User) *peer {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, u))
	conn, resp, err := websocket.DefaultDialer.Dial(w.url(), header)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	p := &peer{t: t, conn: conn, frames: make(chan Envelope, 64)}
	go func() {
		defer close(p.frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(data, &env) == nil {
				p.frames <- env
			}
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return p
}

func (p *peer) emit(event string, data any) int64 {
	p.t.Helper()
	p.nextAck++
	id := p.nextAck
	raw, err := json.Marshal(data)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(Envelope{Event: event, AckID: &id, Data: raw}))
	return id
}

func (p *peer) raw(frame string) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// waitFor returns the first frame matching match, failing after timeout.
func (p *peer) waitFor(match func(Envelope) bool, timeout time.Duration) (Envelope, bool) {
	for i, env := range p.pending {
		if match(env) {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return env, true
		}
	}
	deadline := time.After(timeout)
	for {
		select {
		case env, ok := <-p.frames:
			if !ok {
				return Envelope{}, false
			}
			if match(env) {
				return env, true
			}
			p.pending = append(p.pending, env)
		case <-deadline:
			return Envelope{}, false
		}
	}
}

func (p *peer) expect(event string) Envelope {
	p.t.Helper()
	env, ok := p.waitFor(func(e Envelope) bool { return e.Event == event }, 2*time.Second)
	require.True(p.t, ok, "no %s frame", event)
	return env
}

func (p *peer) expectNone(event string) {
	p.t.Helper()
	env, ok := p.waitFor(func(e Envelope) bool { return e.Event == event }, 200*time.Millisecond)
	assert.False(p.t, ok, "unexpected %s frame: %s", event, env.Data)
}

func (p *peer) ack(id int64) Ack {
	p.t.Helper()
	env, ok := p.waitFor(func(e Envelope) bool {
		return e.Event == EventAck && e.AckID != nil && *e.AckID == id
	}, 2*time.Second)
	require.True(p.t, ok, "no ack %d", id)
	var ack Ack
	require.NoError(p.t, json.Unmarshal(env.Data, &ack))
	return ack
}

func (p *peer) call(event string, data any) Ack {
	p.t.Helper()
	return p.ack(p.emit(event, data))
}

func (p *peer) join(trip *models.Trip) Ack {
	p.t.Helper()
	return p.call(EventJoinRoom, JoinRoomRequest{TripID: trip.ID.String()})
}

func decodeData[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (w *world) history(t *testing.T, trip *models.Trip) []*models.Message {
	t.Helper()
	page, err := w.db.Page(context.Background(), trip.ID, database.PageOptions{Limit: database.MaxPageLimit})
	require.NoError(t, err)
	return page.Messages
}

func TestServeWSRejectsBadCredentials(t *testing.T) {
	w := newWorld(t, Options{})

	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "missing token", header: http.Header{}},
		{name: "invalid token", header: http.Header{"Authorization": {"Bearer not-a-jwt"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(w.url(), tt.header)
			require.Error(t, err)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			assert.JSONEq(t, `{"error":"Authentication error"}`, string(body))
		})
	}
}

func TestServeWSAcceptsQueryToken(t *testing.T) {
	w := newWorld(t, Options{})

	conn, _, err := websocket.DefaultDialer.Dial(w.url()+"?token="+tokenFor(t, w.ana), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return w.hub.Connections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestJoinRoom(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)
	bo := w.connect(t, w.bo)

	ack := ana.join(w.lisbon)
	assert.True(t, ack.Success)
	assert.Equal(t, RoomName(w.lisbon.ID), ack.Room)

	ack = bo.join(w.lisbon)
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonNotMember, ack.Error)
	assert.Equal(t, CodeForbidden, ack.Code)
	assert.Len(t, w.hub.Occupants(w.lisbon.ID), 1, "a refused join never enters the room")
	ana.expectNone(EventUserJoinedRoom)

	ack = ana.call(EventJoinRoom, JoinRoomRequest{TripID: uuid.NewString()})
	assert.Equal(t, ReasonTripNotFound, ack.Error)
	assert.Equal(t, CodeNotFound, ack.Code)

	ack = ana.call(EventJoinRoom, map[string]string{})
	assert.Equal(t, ReasonTripIDRequired, ack.Error)
	assert.Equal(t, CodeValidation, ack.Code)

	// the failed joins above left ana where she was
	assert.Len(t, w.hub.Occupants(w.lisbon.ID), 1)
}

func TestJoinRoomOnDeletedTrip(t *testing.T) {
	w := newWorld(t, Options{})
	require.NoError(t, w.db.SoftDeleteTrip(context.Background(), w.lisbon.ID))

	ana := w.connect(t, w.ana)
	ack := ana.join(w.lisbon)
	assert.Equal(t, ReasonTripNotFound, ack.Error)
	assert.Equal(t, CodeNotFound, ack.Code)
}

func TestJoinNotifiesOccupants(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)
	cai := w.connect(t, w.cai)

	require.True(t, ana.join(w.lisbon).Success)
	require.True(t, cai.join(w.lisbon).Success)

	joined := decodeData[PresencePayload](t, ana.expect(EventUserJoinedRoom))
	assert.Equal(t, w.lisbon.ID, joined.TripID)
	assert.Equal(t, w.cai.ID, joined.UserID)
	cai.expectNone(EventUserJoinedRoom)

	// joining the same room again is acknowledged but not announced
	require.True(t, cai.join(w.lisbon).Success)
	ana.expectNone(EventUserJoinedRoom)
}

func TestSendMessageBroadcastsToRoomIncludingSender(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)
	cai := w.connect(t, w.cai)
	require.True(t, ana.join(w.lisbon).Success)
	require.True(t, cai.join(w.lisbon).Success)

	ack := ana.call(EventSendMessage, SendMessageRequest{
		TripID:          w.lisbon.ID.String(),
		Text:            "  hi  ",
		ClientMessageID: "tmp-1",
	})
	require.True(t, ack.Success, ack.Error)
	require.NotNil(t, ack.CreatedAt)

	for _, p := range []*peer{ana, cai} {
		msg := decodeData[models.Message](t, p.expect(EventNewMessage))
		assert.Equal(t, ack.MessageID, msg.ID.String())
		assert.Equal(t, "hi", msg.Text)
		assert.Equal(t, w.lisbon.ID, msg.TripID)
		assert.Equal(t, models.Sender{ID: w.ana.ID, Name: "Ana", Email: "ana@example.com"}, msg.Sender)
		assert.Equal(t, "tmp-1", msg.ClientMessageID)
		p.expectNone(EventNewMessage)
	}

	stored := w.history(t, w.lisbon)
	require.Len(t, stored, 1)
	assert.Equal(t, ack.MessageID, stored[0].ID.String())
}

func TestSendMessageRequiresJoin(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)
	cai := w.connect(t, w.cai)
	require.True(t, cai.join(w.lisbon).Success)

	ack := ana.call(EventSendMessage, SendMessageRequest{TripID: w.lisbon.ID.String(), Text: "hi"})
	assert.Equal(t, ReasonNotJoined, ack.Error)
	assert.Equal(t, CodeNotJoined, ack.Code)

	// the room check comes before text validation
	ack = ana.call(EventSendMessage, SendMessageRequest{TripID: w.lisbon.ID.String(), Text: ""})
	assert.Equal(t, CodeNotJoined, ack.Code)

	cai.expectNone(EventNewMessage)
	assert.Empty(t, w.history(t, w.lisbon))
}

func TestSendMessageValidatesText(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)
	require.True(t, ana.join(w.lisbon).Success)

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "empty", text: "", want: ReasonEmptyMessage},
		{name: "whitespace", text: "   \n", want: ReasonEmptyMessage},
		{name: "too long", text: strings.Repeat("a", database.MaxMessageLength+1), want: ReasonTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := ana.call(EventSendMessage, SendMessageRequest{TripID: w.lisbon.ID.String(), Text: tt.text})
			assert.Equal(t, tt.want, ack.Error)
			assert.Equal(t, CodeValidation, ack.Code)
			assert.False(t, ack.Retryable())
		})
	}

	ack := ana.call(EventSendMessage, map[string]string{"text": "hi"})
	assert.Equal(t, ReasonTripIDRequired, ack.Error)

	ana.expectNone(EventNewMessage)
	assert.Empty(t, w.history(t, w.lisbon))
}

func TestLeaveRoomIsIdempotent(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)
	cai := w.connect(t, w.cai)
	require.True(t, ana.join(w.lisbon).Success)
	require.True(t, cai.join(w.lisbon).Success)

	// leaving a room cai is not in
	assert.True(t, cai.call(EventLeaveRoom, LeaveRoomRequest{TripID: w.porto.ID.String()}).Success)
	ana.expectNone(EventUserLeftRoom)

	assert.True(t, cai.call(EventLeaveRoom, LeaveRoomRequest{TripID: w.lisbon.ID.String()}).Success)
	left := decodeData[PresencePayload](t, ana.expect(EventUserLeftRoom))
	assert.Equal(t, w.cai.ID, left.UserID)
	assert.Empty(t, left.Reason)

	assert.True(t, cai.call(EventLeaveRoom, LeaveRoomRequest{TripID: w.lisbon.ID.String()}).Success)
	ana.expectNone(EventUserLeftRoom)

	ack := cai.call(EventSendMessage, SendMessageRequest{TripID: w.lisbon.ID.String(), Text: "still here?"})
	assert.Equal(t, CodeNotJoined, ack.Code)
}

func TestJoinAnotherRoomLeavesTheFirst(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)
	cai := w.connect(t, w.cai)
	require.True(t, ana.join(w.lisbon).Success)
	require.True(t, cai.join(w.lisbon).Success)

	require.True(t, ana.join(w.porto).Success)
	left := decodeData[PresencePayload](t, cai.expect(EventUserLeftRoom))
	assert.Equal(t, w.ana.ID, left.UserID)
	assert.Equal(t, w.lisbon.ID, left.TripID)
	require.Len(t, w.hub.Occupants(w.porto.ID), 1)
	assert.Equal(t, w.ana.ID, w.hub.Occupants(w.porto.ID)[0].UserID)

	require.True(t, cai.call(EventSendMessage, SendMessageRequest{TripID: w.lisbon.ID.String(), Text: "bye"}).Success)
	ana.expectNone(EventNewMessage)

	ack := ana.call(EventSendMessage, SendMessageRequest{TripID: w.lisbon.ID.String(), Text: "wait"})
	assert.Equal(t, CodeNotJoined, ack.Code)
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)
	cai := w.connect(t, w.cai)
	require.True(t, ana.join(w.lisbon).Success)
	require.True(t, cai.join(w.lisbon).Success)

	cai.conn.Close()

	left := decodeData[PresencePayload](t, ana.expect(EventUserLeftRoom))
	assert.Equal(t, w.cai.ID, left.UserID)
	assert.Equal(t, ReasonDisconnect, left.Reason)
	assert.Eventually(t, func() bool { return w.hub.Connections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTypingExcludesSender(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)
	cai := w.connect(t, w.cai)
	require.True(t, ana.join(w.lisbon).Success)
	require.True(t, cai.join(w.lisbon).Success)

	ana.emit(EventTyping, TypingRequest{TripID: w.lisbon.ID.String(), IsTyping: true})

	typing := decodeData[TypingPayload](t, cai.expect(EventTyping))
	assert.Equal(t, w.ana.ID, typing.UserID)
	assert.True(t, typing.IsTyping)
	ana.expectNone(EventTyping)
	ana.expectNone(EventAck)
}

func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)

	ana.raw("{not json")
	assert.Equal(t, ReasonInvalidFrame, decodeData[ErrorPayload](t, ana.expect(EventError)).Message)

	ana.raw(`{"event":"dance"}`)
	assert.Equal(t, ReasonUnknownEvent, decodeData[ErrorPayload](t, ana.expect(EventError)).Message)

	ack := ana.ack(ana.emit(EventJoinRoom, "not an object"))
	assert.Equal(t, ReasonInvalidPayload, ack.Error)

	assert.True(t, ana.join(w.lisbon).Success)
}

func TestRateLimit(t *testing.T) {
	w := newWorld(t, Options{RateLimitPerMinute: 2})
	ana := w.connect(t, w.ana)

	assert.True(t, ana.join(w.lisbon).Success)
	assert.True(t, ana.join(w.lisbon).Success)

	ack := ana.call(EventSendMessage, SendMessageRequest{TripID: w.lisbon.ID.String(), Text: "one too many"})
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonRateLimited, ack.Error)
	assert.Equal(t, CodeRateLimited, ack.Code)
	assert.True(t, ack.Retryable())
	ana.expectNone(EventNewMessage)
	assert.Empty(t, w.history(t, w.lisbon))

	// without an ack id the refusal arrives as a push
	ana.raw(`{"event":"typing","data":{"tripId":"` + w.lisbon.ID.String() + `"}}`)
	assert.Equal(t, ReasonRateLimited, decodeData[ErrorPayload](t, ana.expect(EventError)).Message)
}

func TestUnknownEventIsAcked(t *testing.T) {
	w := newWorld(t, Options{})
	ana := w.connect(t, w.ana)

	ack := ana.call("joinTrip", JoinRoomRequest{TripID: w.lisbon.ID.String()})
	assert.False(t, ack.Success)
	assert.Equal(t, ReasonUnknownEvent, ack.Error)
	assert.Equal(t, CodeValidation, ack.Code)
	ana.expectNone(EventError)

	assert.True(t, ana.join(w.lisbon).Success)
}

// stallingOracle never answers before the caller gives up.
type stallingOracle struct{}

func (stallingOracle) TripExists(ctx context.Context, _ uuid.UUID) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (stallingOracle) IsMember(ctx context.Context, _, _ uuid.UUID) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestJoinRoomTimeout(t *testing.T) {
	w := newWorldWith(t, Options{StoreTimeout: 50 * time.Millisecond}, stallingOracle{}, nil)
	ana := w.connect(t, w.ana)

	ack := ana.join(w.lisbon)
	assert.Equal(t, ReasonTimeout, ack.Error)
	assert.Equal(t, CodeTimeout, ack.Code)
	assert.True(t, ack.Retryable())
	assert.Empty(t, w.hub.Occupants(w.lisbon.ID))
}

// stallingStore never finishes an append before the caller gives up.
type stallingStore struct {
	database.MessageStore
}

func (stallingStore) Append(ctx context.Context, _, _ uuid.UUID, _ string) (*models.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// brokenStore fails every append.
type brokenStore struct {
	database.MessageStore
}

func (brokenStore) Append(context.Context, uuid.UUID, uuid.UUID, string) (*models.Message, error) {
	return nil, errors.New("disk full")
}

// panickingStore crashes on append.
type panickingStore struct {
	database.MessageStore
}

func (panickingStore) Append(context.Context, uuid.UUID, uuid.UUID, string) (*models.Message, error) {
	panic("corrupt page")
}

func TestSendMessageStoreFailures(t *testing.T) {
	tests := []struct {
		name      string
		store     func(database.DBInterface) database.MessageStore
		wantError string
		wantCode  string
	}{
		{
			name:      "timeout",
			store:     func(db database.DBInterface) database.MessageStore { return stallingStore{db} },
			wantError: ReasonTimeout,
			wantCode:  CodeTimeout,
		},
		{
			name:      "storage error",
			store:     func(db database.DBInterface) database.MessageStore { return brokenStore{db} },
			wantError: ReasonSendFailed,
			wantCode:  CodeInternal,
		},
		{
			name:      "panic",
			store:     func(db database.DBInterface) database.MessageStore { return panickingStore{db} },
			wantError: ReasonSendFailed,
			wantCode:  CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorldWith(t, Options{StoreTimeout: 50 * time.Millisecond}, nil, tt.store)
			ana := w.connect(t, w.ana)
			cai := w.connect(t, w.cai)
			require.True(t, ana.join(w.lisbon).Success)
			require.True(t, cai.join(w.lisbon).Success)

			ack := ana.call(EventSendMessage, SendMessageRequest{TripID: w.lisbon.ID.String(), Text: "hello"})
			assert.False(t, ack.Success)
			assert.Equal(t, tt.wantError, ack.Error)
			assert.Equal(t, tt.wantCode, ack.Code)
			assert.True(t, ack.Retryable())

			cai.expectNone(EventNewMessage)
			ana.expectNone(EventNewMessage)

			// the connection survives the failure
			assert.True(t, ana.call(EventLeaveRoom, LeaveRoomRequest{TripID: w.lisbon.ID.String()}).Success)
		})
	}
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, ReasonJoinFailed, failureReason(EventJoinRoom))
	assert.Equal(t, ReasonSendFailed, failureReason(EventSendMessage))
	assert.Equal(t, ReasonRequestFailed, failureReason(EventLeaveRoom))
}

func TestDeliverMessageReachesRoom(t *testing.T) {
	w := newWorld(t, Options{})
	cai := w.connect(t, w.cai)
	require.True(t, cai.join(w.lisbon).Success)

	gateway := NewGateway(w.hub, w.db, w.db, nil, Options{})
	msg, err := w.db.Append(context.Background(), w.lisbon.ID, w.ana.ID, "from rest")
	require.NoError(t, err)
	gateway.DeliverMessage(msg)

	got := decodeData[models.Message](t, cai.expect(EventNewMessage))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "Ana", got.Sender.Name)
}
