package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/metrics"
	"github.com/firewatch/dashboard/internal/models"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/google/uuid"
)

// Presenter renders notifications. Dismissing a key that is not shown
// must be a no-op.
type Presenter interface {
	Show(ctx context.Context, n *Notification) error
	Update(ctx context.Context, n *Notification) error
	Dismiss(ctx context.Context, key uuid.UUID) error
}

// AudioCue plays the one-shot sound of a new notification
type AudioCue interface {
	Play(ctx context.Context) error
}

// NameResolver looks up the display name of a location
type NameResolver interface {
	LocationName(ctx context.Context, id uuid.UUID) (string, error)
}

// SnapshotSource lists the alerts that are open right now
type SnapshotSource interface {
	ListOpen(ctx context.Context) ([]*models.AlertRecord, error)
}

// ChangeFeed delivers alert changes to an observer until cancelled
type ChangeFeed interface {
	Subscribe(observer processor.ChangeObserver) *processor.Subscription
}

// Action is what the deduplicator did with one record
type Action string

const (
	ActionShown     Action = "show"
	ActionUpdated   Action = "update"
	ActionDismissed Action = "dismiss"
	ActionIgnored   Action = "ignore"
	ActionFailed    Action = "fail"
)

var ErrAlreadyStarted = errors.New("deduplicator already started")

// Deduplicator keeps exactly one notification per open alert. It is keyed
// by alert id: a newer version of a visible alert refreshes the shown
// notification, older or repeated versions are ignored, and a closed
// status always dismisses. Every record is applied as an idempotent upsert
// so the startup snapshot and the live feed may interleave in any order.
type Deduplicator struct {
	mu        sync.Mutex
	shown     *ShownSet
	presenter Presenter
	audio     AudioCue
	names     NameResolver
	sub       *processor.Subscription
	snapshot  SnapshotSource
}

// Option customizes a Deduplicator
type Option func(*Deduplicator)

func WithAudio(audio AudioCue) Option {
	return func(d *Deduplicator) { d.audio = audio }
}

func WithNameResolver(names NameResolver) Option {
	return func(d *Deduplicator) { d.names = names }
}

func NewDeduplicator(shown *ShownSet, presenter Presenter, opts ...Option) *Deduplicator {
	if shown == nil {
		shown = NewShownSet()
	}
	d := &Deduplicator{shown: shown, presenter: presenter}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start resets the shown set, subscribes to the feed and then shows every
// open alert of the snapshot. Subscribing first means no change made while
// the snapshot loads is missed.
func (d *Deduplicator) Start(ctx context.Context, feed ChangeFeed, snapshot SnapshotSource) error {
	d.mu.Lock()
	if d.sub != nil {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.shown.Reset()
	d.snapshot = snapshot
	d.sub = feed.Subscribe(d)
	d.mu.Unlock()

	open, err := snapshot.ListOpen(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load open alerts for notifications")
		return fmt.Errorf("failed to load open alerts: %w", err)
	}
	for _, alert := range open {
		d.Handle(ctx, alert)
	}

	logger.Debug().Int("open_alerts", len(open)).Msg("Notification snapshot applied")
	return nil
}

// Stop cancels the feed subscription. The deduplicator may be started again.
func (d *Deduplicator) Stop() {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.snapshot = nil
	d.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// OnChange implements processor.ChangeObserver
func (d *Deduplicator) OnChange(ctx context.Context, event *processor.ChangeEvent) error {
	d.Handle(ctx, event.Record)
	return nil
}

// Resync implements processor.Resyncer. It re-applies the open alerts of
// the snapshot and dismisses every visible notification whose alert is no
// longer open.
func (d *Deduplicator) Resync(ctx context.Context) error {
	d.mu.Lock()
	snapshot := d.snapshot
	d.mu.Unlock()
	if snapshot == nil {
		return nil
	}

	open, err := snapshot.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload open alerts: %w", err)
	}

	stillOpen := make(map[uuid.UUID]bool, len(open))
	for _, alert := range open {
		stillOpen[alert.ID] = true
		d.Handle(ctx, alert)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dismissed := 0
	for _, key := range d.shown.Visible() {
		if stillOpen[key] {
			continue
		}
		entry, _ := d.shown.get(key)
		if err := d.presenter.Dismiss(ctx, key); err != nil {
			logger.Warn().Err(err).Str("alert_id", key.String()).Msg("Failed to dismiss notification")
		}
		d.shown.markDismissed(key, entry.version)
		metrics.IncNotificationAction(string(ActionDismissed))
		dismissed++
	}

	logger.Info().Int("open_alerts", len(open)).Int("dismissed", dismissed).Msg("Notifications resynced")
	return nil
}

// Handle applies one record. Presentation failures are logged, never returned.
func (d *Deduplicator) Handle(ctx context.Context, alert *models.AlertRecord) Action {
	if alert == nil {
		return ActionIgnored
	}

	// the lookup may hit the store, keep it outside the lock
	name := ""
	if alert.Status.IsOpen() && d.wantsRender(alert) {
		name = d.locationName(ctx, alert.LocationID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	action := d.apply(ctx, alert, name)
	metrics.IncNotificationAction(string(action))
	return action
}

// wantsRender reports whether alert is newer than what has been seen
func (d *Deduplicator) wantsRender(alert *models.AlertRecord) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, known := d.shown.get(alert.ID)
	return !known || alert.Version().After(entry.version)
}

func (d *Deduplicator) apply(ctx context.Context, alert *models.AlertRecord, name string) Action {
	key := alert.ID
	version := alert.Version()
	entry, known := d.shown.get(key)

	if alert.Status.IsClosed() {
		if err := d.presenter.Dismiss(ctx, key); err != nil {
			logger.Warn().Err(err).Str("alert_id", key.String()).Msg("Failed to dismiss notification")
		}
		d.shown.markDismissed(key, version)
		return ActionDismissed
	}
	if !alert.Status.IsOpen() {
		return ActionIgnored
	}
	if known && !version.After(entry.version) {
		return ActionIgnored
	}

	if name == "" {
		name = d.locationName(ctx, alert.LocationID)
	}
	n := Build(alert, name)

	if known && entry.visible {
		if err := d.presenter.Update(ctx, n); err != nil {
			logger.Warn().Err(err).Str("alert_id", key.String()).Msg("Failed to update notification")
			return ActionFailed
		}
		d.shown.markVisible(key, version)
		return ActionUpdated
	}

	if err := d.presenter.Show(ctx, n); err != nil {
		logger.Warn().Err(err).Str("alert_id", key.String()).Msg("Failed to show notification")
		return ActionFailed
	}
	d.shown.markVisible(key, version)

	if d.audio != nil {
		if err := d.audio.Play(ctx); err != nil {
			logger.Debug().Err(err).Msg("Audio cue failed")
		}
	}
	return ActionShown
}

func (d *Deduplicator) locationName(ctx context.Context, id uuid.UUID) string {
	if d.names == nil {
		return UnknownLocation
	}
	name, err := d.names.LocationName(ctx, id)
	if err != nil || name == "" {
		if err != nil {
			logger.Debug().Err(err).Str("location_id", id.String()).Msg("Location name lookup failed")
		}
		return UnknownLocation
	}
	return name
}

// Visible returns the number of notifications on screen
func (d *Deduplicator) Visible() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown.Len()
}
