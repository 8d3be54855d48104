package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/models"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ChangeChannel is the NOTIFY channel written by the alerts trigger
const ChangeChannel = "alert_changes"

// Publisher receives the decoded change events
type Publisher interface {
	Publish(event *processor.ChangeEvent)
}

// NotifyConn is the part of *pgx.Conn the listener needs
type NotifyConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated connection for LISTEN
type Dialer func(ctx context.Context) (NotifyConn, error)

// PgxDialer dials databaseURL with pgx
func PgxDialer(databaseURL string) Dialer {
	return func(ctx context.Context) (NotifyConn, error) {
		return pgx.Connect(ctx, databaseURL)
	}
}

type changePayload struct {
	Type   string              `json:"type"`
	Record *models.AlertRecord `json:"record"`
}

// ChangeListener turns alert row notifications into change events, so
// writes made by other replicas reach this process's subscribers.
type ChangeListener struct {
	dial      Dialer
	publisher Publisher
	channel   string
	backoff   time.Duration
	maxWait   time.Duration
}

func NewChangeListener(dial Dialer, publisher Publisher) *ChangeListener {
	return &ChangeListener{
		dial:      dial,
		publisher: publisher,
		channel:   ChangeChannel,
		backoff:   time.Second,
		maxWait:   30 * time.Second,
	}
}

// WithBackoff sets the first and the longest reconnect delay
func (l *ChangeListener) WithBackoff(initial, max time.Duration) *ChangeListener {
	l.backoff = initial
	l.maxWait = max
	return l
}

// Run listens until ctx is done, reconnecting after connection failures
func (l *ChangeListener) Run(ctx context.Context) {
	logger.Info().Str("channel", l.channel).Msg("Starting alert change listener")
	wait := l.backoff

	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			logger.Info().Msg("Alert change listener stopped")
			return
		}
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("Alert change listener disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > l.maxWait {
			wait = l.maxWait
		}
	}
}

func (l *ChangeListener) listen(ctx context.Context) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}
	logger.Info().Str("channel", l.channel).Msg("Listening for alert changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		event, err := DecodeChange(n.Payload)
		if err != nil {
			logger.Warn().Err(err).Str("channel", n.Channel).Msg("Ignoring malformed alert change")
			continue
		}
		l.publisher.Publish(event)
	}
}

// DecodeChange parses a trigger payload {"type": "INSERT", "record": {...}}
func DecodeChange(payload string) (*processor.ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("invalid change payload: %w", err)
	}
	if p.Record == nil {
		return nil, errors.New("change payload has no record")
	}

	var changeType processor.ChangeType
	switch strings.ToLower(p.Type) {
	case "insert":
		changeType = processor.ChangeInsert
	case "update":
		changeType = processor.ChangeUpdate
	default:
		return nil, fmt.Errorf("unsupported change type %q", p.Type)
	}

	return &processor.ChangeEvent{
		Type:      changeType,
		Record:    p.Record,
		Timestamp: time.Now(),
		Origin:    processor.OriginListener,
	}, nil
}
