// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parlor-chat/parlor/hub"
	"github.com/parlor-chat/parlor/lib/ref"
	"github.com/parlor-chat/parlor/lib/secret"
	"github.com/parlor-chat/parlor/messaging"
)

// Phase is the session state machine's current state.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseConnecting    Phase = "connecting"
	PhaseActive        Phase = "active"
	PhaseDisconnecting Phase = "disconnecting"

	// PhaseFailed is transient: it is held only while a failed
	// session's protocol state is being torn down, then the machine
	// returns to Idle. Failures are never sticky.
	PhaseFailed Phase = "failed"
)

var (
	// ErrAlreadyActive is returned by Start when the machine is not
	// Idle. At most one session may be connecting or active at a time.
	ErrAlreadyActive = errors.New("session: already active")

	// ErrNotConnected is returned by Send when the machine is not
	// Active.
	ErrNotConnected = errors.New("session: not connected")

	// ErrEmptyMessage is returned by Send when the text is blank
	// after trimming whitespace.
	ErrEmptyMessage = errors.New("session: empty message")
)

// logoutTimeout bounds the best-effort logout call during teardown.
const logoutTimeout = 5 * time.Second

// Config configures a Machine.
type Config struct {
	// Client is the homeserver client used for login.
	Client *messaging.Client

	// Room identifies the single watched room: a room ID ("!...") or
	// an alias ("#...") resolved at connect time.
	Room string

	// HistoryLimit is how many recent messages to backfill on connect.
	// Defaults to hub.DefaultHistoryLimit.
	HistoryLimit int

	// Logger receives state transitions and sync-loop errors.
	// Defaults to slog.Default.
	Logger *slog.Logger
}

// Status is a read-only snapshot of the machine.
type Status struct {
	Phase     Phase      `json:"phase"`
	UserID    ref.UserID `json:"user_id,omitzero"`
	RoomID    ref.RoomID `json:"room_id,omitzero"`
	LastError string     `json:"last_error,omitempty"`
}

// Machine drives one logical room session. All exported methods are
// safe for concurrent use.
type Machine struct {
	client       *messaging.Client
	room         string
	historyLimit int
	logger       *slog.Logger

	mu            sync.Mutex
	phase         Phase
	lastError     string
	stopRequested bool
	session       *messaging.Session
	userID        ref.UserID
	roomID        ref.RoomID
	events        chan hub.Event
	cancel        context.CancelFunc
	done          chan struct{}
}

func NewMachine(config Config) (*Machine, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("session: config missing client")
	}
	if config.Room == "" {
		return nil, fmt.Errorf("session: config missing room")
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = hub.DefaultHistoryLimit
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Machine{
		client:       config.Client,
		room:         config.Room,
		historyLimit: config.HistoryLimit,
		logger:       config.Logger,
		phase:        PhaseIdle,
	}, nil
}

// Snapshot returns the machine's current state.
func (m *Machine) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Phase:     m.phase,
		UserID:    m.userID,
		RoomID:    m.roomID,
		LastError: m.lastError,
	}
}

// Events returns the channel carrying room events while the session is
// Active, or nil otherwise. The channel has exactly one consumer (the
// hub ingest pump) and is closed when the session leaves Active.
func (m *Machine) Events() <-chan hub.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseActive {
		return nil
	}
	return m.events
}

// Start logs in with the given credentials, joins the configured room,
// backfills recent history, and launches the sync loop. Valid only
// from Idle; returns ErrAlreadyActive otherwise. On any failure the
// machine records the error and returns to Idle, so a fresh Start is
// always retryable.
//
// The caller's context bounds the connect sequence only; the sync loop
// runs until Stop.
func (m *Machine) Start(ctx context.Context, username string, password *secret.Buffer) error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	connectCtx, connectCancel := context.WithCancel(ctx)
	defer connectCancel()
	m.phase = PhaseConnecting
	m.lastError = ""
	m.stopRequested = false
	m.cancel = connectCancel
	m.mu.Unlock()

	m.logger.Info("connecting", "username", username, "room", m.room)

	sess, err := m.client.Login(connectCtx, username, password)
	if err != nil {
		return m.failStart(nil, fmt.Errorf("session: login: %w", err))
	}

	roomID, err := m.resolveRoom(connectCtx, sess)
	if err != nil {
		return m.failStart(sess, err)
	}
	if _, err := sess.JoinRoom(connectCtx, roomID); err != nil {
		return m.failStart(sess, fmt.Errorf("session: joining %s: %w", roomID, err))
	}

	// The initial sync (no since token) establishes the live edge:
	// its next_batch token is where the long-poll loop picks up, and
	// its timeline seeds the history replay.
	filter := messaging.RoomMessageFilter(roomID, m.historyLimit)
	initial, err := sess.Sync(connectCtx, messaging.SyncOptions{Filter: filter})
	if err != nil {
		return m.failStart(sess, fmt.Errorf("session: initial sync: %w", err))
	}

	seed := m.seedHistory(connectCtx, sess, roomID, initial)

	syncCtx, syncCancel := context.WithCancel(context.Background())
	events := make(chan hub.Event, m.historyLimit)
	done := make(chan struct{})

	m.mu.Lock()
	// A Stop issued during Connecting may land after the connect
	// sequence's last context check; honor it here rather than going
	// Active behind the caller's back.
	if m.stopRequested {
		m.mu.Unlock()
		syncCancel()
		return m.failStart(sess, errors.New("session: stopped during connect"))
	}
	m.phase = PhaseActive
	m.session = sess
	m.userID = sess.UserID()
	m.roomID = roomID
	m.events = events
	m.cancel = syncCancel
	m.done = done
	m.mu.Unlock()

	m.logger.Info("session active",
		"user_id", sess.UserID(),
		"room_id", roomID,
		"history", len(seed),
	)

	go m.syncLoop(syncCtx, sess, roomID, filter, initial.NextBatch, seed, events, done)
	return nil
}

// Stop shuts the session down: cancels the sync loop, logs out, and
// returns the machine to Idle. Calling Stop from Idle is a no-op, not
// an error. A Stop during Connecting cancels the in-flight Start.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	switch m.phase {
	case PhaseIdle, PhaseFailed, PhaseDisconnecting:
		m.mu.Unlock()
		return nil
	case PhaseConnecting:
		m.stopRequested = true
		if m.cancel != nil {
			m.cancel()
		}
		m.mu.Unlock()
		return nil
	}
	m.phase = PhaseDisconnecting
	sess := m.session
	cancel := m.cancel
	done := m.done
	m.session = nil
	m.cancel = nil
	m.done = nil
	m.events = nil
	m.mu.Unlock()

	m.logger.Info("disconnecting")
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}

	m.teardown(sess)

	m.mu.Lock()
	m.phase = PhaseIdle
	m.userID = ref.UserID{}
	m.roomID = ref.RoomID{}
	m.mu.Unlock()
	m.logger.Info("session stopped")
	return nil
}

// Send posts a text message to the watched room. Valid only while
// Active. Blank text (after trimming) is rejected before touching the
// network.
func (m *Machine) Send(ctx context.Context, text string) (ref.EventID, error) {
	if strings.TrimSpace(text) == "" {
		return ref.EventID{}, ErrEmptyMessage
	}

	m.mu.Lock()
	if m.phase != PhaseActive {
		m.mu.Unlock()
		return ref.EventID{}, ErrNotConnected
	}
	sess := m.session
	roomID := m.roomID
	m.mu.Unlock()

	eventID, err := sess.SendMessage(ctx, roomID, messaging.NewTextMessage(text))
	if err != nil {
		return ref.EventID{}, fmt.Errorf("session: sending message: %w", err)
	}
	return eventID, nil
}

// failStart records a connect failure and returns the machine to
// Idle. The session, when one was established before the failure, is
// logged out so the homeserver doesn't accumulate orphaned devices.
func (m *Machine) failStart(sess *messaging.Session, err error) error {
	m.logger.Error("connect failed", "error", err)
	m.teardown(sess)

	m.mu.Lock()
	m.phase = PhaseIdle
	m.lastError = err.Error()
	m.cancel = nil
	m.mu.Unlock()
	return err
}

// resolveRoom turns the configured room identifier into a room ID,
// resolving an alias against the homeserver when needed.
func (m *Machine) resolveRoom(ctx context.Context, sess *messaging.Session) (ref.RoomID, error) {
	if strings.HasPrefix(m.room, "#") {
		alias, err := ref.ParseRoomAlias(m.room)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("session: %w", err)
		}
		roomID, err := sess.ResolveAlias(ctx, alias)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("session: resolving %s: %w", alias, err)
		}
		return roomID, nil
	}
	roomID, err := ref.ParseRoomID(m.room)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("session: %w", err)
	}
	return roomID, nil
}

// seedHistory builds the chronological history replay from the initial
// sync response, backfilling older messages through /messages when the
// sync timeline alone doesn't fill the history limit. Backfill errors
// are logged, not fatal: a session with partial history is better than
// no session.
func (m *Machine) seedHistory(ctx context.Context, sess *messaging.Session, roomID ref.RoomID, initial *messaging.SyncResponse) []hub.Event {
	timeline := initial.Rooms.Join[roomID].Timeline

	recent := make([]messaging.Event, 0, len(timeline.Events))
	for _, event := range timeline.Events {
		if _, ok := event.MessageBody(); ok {
			recent = append(recent, event)
		}
	}

	var older []messaging.Event
	if need := m.historyLimit - len(recent); need > 0 && timeline.PrevBatch != "" {
		response, err := sess.RoomMessages(ctx, roomID, messaging.RoomMessagesOptions{
			From:  timeline.PrevBatch,
			Limit: need,
		})
		if err != nil {
			m.logger.Warn("history backfill failed", "room_id", roomID, "error", err)
		} else {
			// The chunk is newest-first; reverse into chronological
			// order.
			for i := len(response.Chunk) - 1; i >= 0; i-- {
				if _, ok := response.Chunk[i].MessageBody(); ok {
					older = append(older, response.Chunk[i])
				}
			}
		}
	}

	combined := append(older, recent...)
	if len(combined) > m.historyLimit {
		combined = combined[len(combined)-m.historyLimit:]
	}

	seed := make([]hub.Event, len(combined))
	for i, event := range combined {
		seed[i] = roomEvent(int64(i+1), event)
	}
	return seed
}

// syncLoop is the session's background long-poll loop. It first
// delivers the seed history, then repeatedly calls /sync with a 30
// second server hold, converting timeline messages into events. On
// transient errors it retries with exponential backoff (1s → 30s); on
// an invalid access token it tears the session down. The events
// channel is closed on exit, however the loop ends.
func (m *Machine) syncLoop(ctx context.Context, sess *messaging.Session, roomID ref.RoomID, filter, since string, seed []hub.Event, events chan hub.Event, done chan struct{}) {
	defer close(done)
	defer close(events)

	sequence := int64(0)
	for _, event := range seed {
		sequence = event.Sequence
		select {
		case events <- event:
		case <-ctx.Done():
			return
		}
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		response, err := sess.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    30000,
			SetTimeout: true,
			Filter:     filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) {
				m.fail(fmt.Errorf("session: sync: %w", err))
				return
			}
			m.logger.Error("sync failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Second
		since = response.NextBatch

		for _, event := range response.Rooms.Join[roomID].Timeline.Events {
			if _, ok := event.MessageBody(); !ok {
				continue
			}
			sequence++
			select {
			case events <- roomEvent(sequence, event):
			case <-ctx.Done():
				return
			}
		}
	}
}

// fail handles an unrecoverable background error: the machine passes
// through Failed while protocol state is torn down, then returns to
// Idle so the operator can retry.
func (m *Machine) fail(err error) {
	m.mu.Lock()
	if m.phase != PhaseActive {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseFailed
	m.lastError = err.Error()
	sess := m.session
	m.session = nil
	m.cancel = nil
	m.done = nil
	m.events = nil
	m.mu.Unlock()

	m.logger.Error("session failed", "error", err)
	m.teardown(sess)

	m.mu.Lock()
	if m.phase == PhaseFailed {
		m.phase = PhaseIdle
		m.userID = ref.UserID{}
		m.roomID = ref.RoomID{}
	}
	m.mu.Unlock()
}

// teardown logs the session out and releases its connections.
// Best-effort: the homeserver may already consider us gone.
func (m *Machine) teardown(sess *messaging.Session) {
	if sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if err := sess.Logout(ctx); err != nil {
		m.logger.Warn("logout failed", "error", err)
	}
	sess.Close()
}

func roomEvent(sequence int64, event messaging.Event) hub.Event {
	body, _ := event.MessageBody()
	return hub.Event{
		Sequence:  sequence,
		Sender:    event.Sender.String(),
		Body:      body,
		Timestamp: time.UnixMilli(event.OriginServerTS),
	}
}
