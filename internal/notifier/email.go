package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/firewatch/dashboard/internal/config"
	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/notification"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/google/uuid"
)

const sentTTL = time.Hour

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailDispatcher mails the on-call list when a new alert is created.
// Updates and closures are not mailed. Inserts relayed by the database
// listener are skipped: the replica that wrote the row mails it.
type EmailDispatcher struct {
	config     config.EmailConfig
	names      notification.NameResolver
	send       SendFunc
	retryDelay time.Duration

	mu   sync.Mutex
	sent map[uuid.UUID]time.Time
}

func NewEmailDispatcher(cfg config.EmailConfig, names notification.NameResolver) *EmailDispatcher {
	return &EmailDispatcher{
		config:     cfg,
		names:      names,
		send:       smtp.SendMail,
		retryDelay: time.Second,
		sent:       make(map[uuid.UUID]time.Time),
	}
}

// WithSender replaces the SMTP transport
func (ed *EmailDispatcher) WithSender(send SendFunc, retryDelay time.Duration) *EmailDispatcher {
	ed.send = send
	ed.retryDelay = retryDelay
	return ed
}

// OnChange implements processor.ChangeObserver
func (ed *EmailDispatcher) OnChange(ctx context.Context, event *processor.ChangeEvent) error {
	if event.Type != processor.ChangeInsert || event.Record == nil || !event.Record.IsOpen() {
		return nil
	}
	if event.Origin == processor.OriginListener {
		return nil
	}
	if ed.alreadySent(event.Record.ID) {
		logger.Debug().Str("alert_id", event.Record.ID.String()).Msg("Alert email already sent")
		return nil
	}
	if ed.config.SMTPHost == "" || ed.config.Username == "" || len(ed.config.To) == 0 {
		logger.Warn().Msg("Email configuration incomplete, skipping email dispatch")
		return nil
	}

	name := notification.UnknownLocation
	if ed.names != nil {
		if resolved, err := ed.names.LocationName(ctx, event.Record.LocationID); err == nil && resolved != "" {
			name = resolved
		}
	}
	n := notification.Build(event.Record, name)
	message := ed.compose(n)

	auth := smtp.PlainAuth("", ed.config.Username, ed.config.Password, ed.config.SMTPHost)
	addr := fmt.Sprintf("%s:%d", ed.config.SMTPHost, ed.config.SMTPPort)

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = ed.send(addr, auth, ed.config.From, ed.config.To, message)
		if err == nil {
			ed.markSent(n.Key)
			logger.Info().
				Strs("to", ed.config.To).
				Str("alert_id", n.Key.String()).
				Str("severity", string(n.Severity)).
				Msg("Alert email sent")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ed.retryDelay):
		}
	}

	return fmt.Errorf("email dispatch failed after retries: %w", err)
}

func (ed *EmailDispatcher) alreadySent(id uuid.UUID) bool {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	_, ok := ed.sent[id]
	return ok
}

// markSent remembers id and forgets entries older than sentTTL
func (ed *EmailDispatcher) markSent(id uuid.UUID) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	now := time.Now()
	for key, at := range ed.sent {
		if now.Sub(at) > sentTTL {
			delete(ed.sent, key)
		}
	}
	ed.sent[id] = now
}

func (ed *EmailDispatcher) compose(n *notification.Notification) []byte {
	subject := fmt.Sprintf("[%s] %s at %s", strings.ToUpper(string(n.Severity)), n.Title, n.LocationName)
	body := fmt.Sprintf(`
Fire Monitoring Alert

%s

Location: %s
Type: %s
Severity: %s
Detected: %s
Alert ID: %s

--
Firewatch Dashboard
`, n.Message, n.LocationName, n.AlertType, n.Severity, n.DetectedAt.Format(time.RFC3339), n.Key)

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n",
		ed.config.From, strings.Join(ed.config.To, ", "), subject)
	return []byte(headers + body)
}
