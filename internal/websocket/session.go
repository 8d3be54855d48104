package websocket

import (
	"context"
	"errors"
	"sync"

	"github.com/firewatch/dashboard/internal/notification"
	"github.com/google/uuid"
)

// Notification message types sent to a browser session
const (
	MsgNotificationShow    = "notification.show"
	MsgNotificationUpdate  = "notification.update"
	MsgNotificationDismiss = "notification.dismiss"
	MsgNotificationSound   = "notification.sound"
)

// ErrSessionClosed is returned by Start after the connection went away
var ErrSessionClosed = errors.New("notification session closed")

type messageWriter interface {
	WriteJSON(v interface{}) error
}

// Session renders one connection's notifications. It owns a fresh
// ShownSet, so a reconnecting browser starts from an empty set and the
// snapshot re-shows what is still open.
type Session struct {
	writer messageWriter
	dedup  *notification.Deduplicator

	// serializes Start against Stop; once closed the session stays closed
	lifecycle sync.Mutex
	closed    bool

	mu     sync.Mutex
	onPage map[uuid.UUID]bool
}

// NewSession creates a session writing to w
func NewSession(w messageWriter, names notification.NameResolver) *Session {
	s := &Session{writer: w, onPage: make(map[uuid.UUID]bool)}
	s.dedup = notification.NewDeduplicator(notification.NewShownSet(), s,
		notification.WithAudio(s),
		notification.WithNameResolver(names))
	return s
}

// Start subscribes to the feed and replays the open alerts. It fails with
// ErrSessionClosed when Stop already ran.
func (s *Session) Start(ctx context.Context, feed notification.ChangeFeed, snapshot notification.SnapshotSource) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.dedup.Start(ctx, feed, snapshot)
}

// Stop cancels the feed subscription. A later Start is refused.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	s.closed = true
	s.lifecycle.Unlock()
	s.dedup.Stop()
}

// Deduplicator exposes the session's deduplicator
func (s *Session) Deduplicator() *notification.Deduplicator {
	return s.dedup
}

func (s *Session) Show(ctx context.Context, n *notification.Notification) error {
	if err := s.send(MsgNotificationShow, n); err != nil {
		return err
	}
	s.mu.Lock()
	s.onPage[n.Key] = true
	s.mu.Unlock()
	return nil
}

func (s *Session) Update(ctx context.Context, n *notification.Notification) error {
	return s.send(MsgNotificationUpdate, n)
}

// Dismiss only writes to the browser when the key is on the page
func (s *Session) Dismiss(ctx context.Context, key uuid.UUID) error {
	s.mu.Lock()
	shown := s.onPage[key]
	delete(s.onPage, key)
	s.mu.Unlock()
	if !shown {
		return nil
	}
	return s.send(MsgNotificationDismiss, map[string]uuid.UUID{"key": key})
}

// Play asks the browser to play the alert sound
func (s *Session) Play(ctx context.Context) error {
	return s.send(MsgNotificationSound, struct{}{})
}

func (s *Session) send(msgType string, payload interface{}) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return s.writer.WriteJSON(msg)
}
