package notification_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/firewatch/dashboard/internal/models"
	"github.com/firewatch/dashboard/internal/notification"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/firewatch/dashboard/internal/repository"
	"github.com/google/uuid"
)

type call struct {
	Kind         string
	Key          uuid.UUID
	Notification *notification.Notification
}

// FakePresenter records every call it receives
type FakePresenter struct {
	mu        sync.Mutex
	calls     []call
	ShowErr   error
	UpdateErr error
}

func (p *FakePresenter) Show(ctx context.Context, n *notification.Notification) error {
	p.record(call{Kind: "show", Key: n.Key, Notification: n})
	return p.ShowErr
}

func (p *FakePresenter) Update(ctx context.Context, n *notification.Notification) error {
	p.record(call{Kind: "update", Key: n.Key, Notification: n})
	return p.UpdateErr
}

func (p *FakePresenter) Dismiss(ctx context.Context, key uuid.UUID) error {
	p.record(call{Kind: "dismiss", Key: key})
	return nil
}

func (p *FakePresenter) record(c call) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *FakePresenter) Calls(kind string) []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []call
	for _, c := range p.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// GatedPresenter holds its first call until Release is closed
type GatedPresenter struct {
	*FakePresenter
	Release chan struct{}
	once    sync.Once
}

func (p *GatedPresenter) Show(ctx context.Context, n *notification.Notification) error {
	p.once.Do(func() { <-p.Release })
	return p.FakePresenter.Show(ctx, n)
}

// BlockingNames resolves every location to Name once Release is closed
type BlockingNames struct {
	Name    string
	Entered chan struct{}
	Release chan struct{}
}

func (b *BlockingNames) LocationName(ctx context.Context, id uuid.UUID) (string, error) {
	close(b.Entered)
	<-b.Release
	return b.Name, nil
}

// FakeAudio counts plays and can fail
type FakeAudio struct {
	mu    sync.Mutex
	plays int
	Err   error
}

func (a *FakeAudio) Play(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plays++
	return a.Err
}

func (a *FakeAudio) Plays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plays
}

// FakeNames resolves from a map and fails for anything else
type FakeNames map[uuid.UUID]string

func (f FakeNames) LocationName(ctx context.Context, id uuid.UUID) (string, error) {
	if name, ok := f[id]; ok {
		return name, nil
	}
	return "", errors.New("location lookup failed")
}

// FakeSnapshot returns fixed records
type FakeSnapshot struct {
	Records []*models.AlertRecord
	Err     error
	Before  func()
}

func (s *FakeSnapshot) ListOpen(ctx context.Context) ([]*models.AlertRecord, error) {
	if s.Before != nil {
		s.Before()
	}
	return s.Records, s.Err
}

var _ = Describe("Deduplicator", func() {
	var (
		ctx        context.Context
		presenter  *FakePresenter
		audio      *FakeAudio
		locationID uuid.UUID
		names      FakeNames
		shown      *notification.ShownSet
		dedup      *notification.Deduplicator
		t0         time.Time
	)

	fireAlert := func() *models.AlertRecord {
		reading := &models.SensorReading{LocationID: locationID, Flame: true, Gas: 50, Temperature: 20}
		classification := models.Classification{Type: models.AlertTypeFire, Severity: models.SeverityCritical}
		return models.NewAlertRecord(locationID, classification, reading, t0)
	}

	BeforeEach(func() {
		ctx = context.Background()
		presenter = &FakePresenter{}
		audio = &FakeAudio{}
		locationID = uuid.New()
		names = FakeNames{locationID: "Warehouse A"}
		shown = notification.NewShownSet()
		t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		dedup = notification.NewDeduplicator(shown, presenter,
			notification.WithAudio(audio),
			notification.WithNameResolver(names))
	})

	Describe("open alerts", func() {
		It("should show a new alert once and play the audio cue once", func() {
			alert := fireAlert()

			Expect(dedup.Handle(ctx, alert)).To(Equal(notification.ActionShown))
			Expect(dedup.Handle(ctx, alert.Clone())).To(Equal(notification.ActionIgnored))

			Expect(presenter.Calls("show")).To(HaveLen(1))
			Expect(audio.Plays()).To(Equal(1))
			Expect(shown.IsVisible(alert.ID)).To(BeTrue())
			Expect(dedup.Visible()).To(Equal(1))
		})

		It("should render the location name and alert text", func() {
			dedup.Handle(ctx, fireAlert())

			n := presenter.Calls("show")[0].Notification
			Expect(n.LocationName).To(Equal("Warehouse A"))
			Expect(n.Title).To(Equal("Fire detected"))
			Expect(n.Message).To(ContainSubstring("Warehouse A"))
			Expect(n.Severity).To(Equal(models.SeverityCritical))
		})

		It("should update a visible alert when a newer version arrives", func() {
			alert := fireAlert()
			dedup.Handle(ctx, alert)

			newer := alert.Clone()
			newer.Redetect(models.Classification{Type: models.AlertTypeGasLeak, Severity: models.SeverityCritical},
				&models.SensorReading{Gas: 600}, t0.Add(5*time.Minute))

			Expect(dedup.Handle(ctx, newer)).To(Equal(notification.ActionUpdated))
			Expect(presenter.Calls("show")).To(HaveLen(1))
			Expect(presenter.Calls("update")).To(HaveLen(1))
			Expect(presenter.Calls("update")[0].Notification.AlertType).To(Equal(models.AlertTypeGasLeak))
			Expect(audio.Plays()).To(Equal(1))
		})

		It("should ignore an older version of a visible alert", func() {
			alert := fireAlert()
			newer := alert.Clone()
			newer.Redetect(models.Classification{Type: models.AlertTypeTemperature, Severity: models.SeverityCritical},
				&models.SensorReading{Temperature: 50}, t0.Add(time.Minute))

			dedup.Handle(ctx, newer)
			Expect(dedup.Handle(ctx, alert)).To(Equal(notification.ActionIgnored))
			Expect(presenter.Calls("update")).To(BeEmpty())
		})

		It("should fall back to a placeholder name", func() {
			alert := fireAlert()
			alert.LocationID = uuid.New()

			Expect(dedup.Handle(ctx, alert)).To(Equal(notification.ActionShown))
			Expect(presenter.Calls("show")[0].Notification.LocationName).To(Equal(notification.UnknownLocation))
		})

		It("should use the placeholder without a resolver", func() {
			plain := notification.NewDeduplicator(nil, presenter)
			plain.Handle(ctx, fireAlert())
			Expect(presenter.Calls("show")[0].Notification.LocationName).To(Equal(notification.UnknownLocation))
		})

		It("should swallow audio failures", func() {
			audio.Err = errors.New("autoplay blocked")

			Expect(dedup.Handle(ctx, fireAlert())).To(Equal(notification.ActionShown))
			Expect(audio.Plays()).To(Equal(1))
		})

		It("should retry a notification the presenter failed to show", func() {
			presenter.ShowErr = errors.New("view gone")
			alert := fireAlert()

			Expect(dedup.Handle(ctx, alert)).To(Equal(notification.ActionFailed))
			Expect(shown.IsVisible(alert.ID)).To(BeFalse())
			Expect(audio.Plays()).To(Equal(0))

			presenter.ShowErr = nil
			Expect(dedup.Handle(ctx, alert)).To(Equal(notification.ActionShown))
			Expect(audio.Plays()).To(Equal(1))
		})
	})

	Describe("closed alerts", func() {
		It("should dismiss a visible alert", func() {
			alert := fireAlert()
			dedup.Handle(ctx, alert)

			resolved := alert.Clone()
			resolved.Close(models.AlertStatusResolved, "operator", t0.Add(time.Minute))

			Expect(dedup.Handle(ctx, resolved)).To(Equal(notification.ActionDismissed))
			Expect(presenter.Calls("dismiss")).To(HaveLen(1))
			Expect(shown.IsVisible(alert.ID)).To(BeFalse())
			Expect(dedup.Visible()).To(Equal(0))
		})

		It("should dismiss an alert that was never shown", func() {
			alert := fireAlert()
			alert.Close(models.AlertStatusFalseAlarm, "operator", t0)

			Expect(dedup.Handle(ctx, alert)).To(Equal(notification.ActionDismissed))
			Expect(presenter.Calls("dismiss")).To(HaveLen(1))
			Expect(presenter.Calls("show")).To(BeEmpty())
		})

		It("should tolerate repeated dismissals", func() {
			alert := fireAlert()
			alert.Close(models.AlertStatusResolved, "operator", t0)

			dedup.Handle(ctx, alert)
			dedup.Handle(ctx, alert)
			Expect(presenter.Calls("dismiss")).To(HaveLen(2))
			Expect(shown.Len()).To(Equal(0))
		})

		It("should not resurrect a dismissed alert from a stale copy", func() {
			alert := fireAlert()
			dedup.Handle(ctx, alert)

			resolved := alert.Clone()
			resolved.Close(models.AlertStatusResolved, "operator", t0.Add(time.Minute))
			dedup.Handle(ctx, resolved)

			Expect(dedup.Handle(ctx, alert)).To(Equal(notification.ActionIgnored))
			Expect(presenter.Calls("show")).To(HaveLen(1))
			Expect(shown.IsVisible(alert.ID)).To(BeFalse())
		})
	})

	Describe("Start", func() {
		var bus *processor.EventBus

		BeforeEach(func() {
			bus = processor.NewEventBus()
			DeferCleanup(bus.Stop)
		})

		It("should show every alert of the snapshot", func() {
			first := fireAlert()
			second := fireAlert()
			snapshot := &FakeSnapshot{Records: []*models.AlertRecord{first, second}}

			Expect(dedup.Start(ctx, bus, snapshot)).To(Succeed())
			Expect(presenter.Calls("show")).To(HaveLen(2))
			Expect(audio.Plays()).To(Equal(2))
			Expect(dedup.Start(ctx, bus, snapshot)).To(MatchError(notification.ErrAlreadyStarted))
		})

		It("should subscribe before loading the snapshot", func() {
			snapshot := &FakeSnapshot{Before: func() {
				Expect(bus.SubscriberCount()).To(Equal(1))
			}}
			Expect(dedup.Start(ctx, bus, snapshot)).To(Succeed())
		})

		It("should report snapshot failures", func() {
			snapshot := &FakeSnapshot{Err: errors.New("store offline")}
			Expect(dedup.Start(ctx, bus, snapshot)).To(HaveOccurred())
		})

		It("should converge when a live close races a stale snapshot", func() {
			alert := fireAlert()
			resolved := alert.Clone()
			resolved.Close(models.AlertStatusResolved, "operator", t0.Add(time.Minute))

			// the snapshot was read before the alert was resolved, but the
			// close event is delivered first
			snapshot := &FakeSnapshot{
				Records: []*models.AlertRecord{alert},
				Before: func() {
					bus.Publish(&processor.ChangeEvent{Type: processor.ChangeUpdate, Record: resolved})
					Eventually(func() int { return len(presenter.Calls("dismiss")) }).Should(Equal(1))
				},
			}

			Expect(dedup.Start(ctx, bus, snapshot)).To(Succeed())
			Expect(presenter.Calls("show")).To(BeEmpty())
			Expect(dedup.Visible()).To(Equal(0))
		})

		It("should apply live events and stop on Stop", func() {
			Expect(dedup.Start(ctx, bus, &FakeSnapshot{})).To(Succeed())

			alert := fireAlert()
			bus.Publish(&processor.ChangeEvent{Type: processor.ChangeInsert, Record: alert})
			bus.Publish(&processor.ChangeEvent{Type: processor.ChangeInsert, Record: alert.Clone()})
			Eventually(func() int { return len(presenter.Calls("show")) }).Should(Equal(1))
			Consistently(func() int { return audio.Plays() }, 50*time.Millisecond).Should(Equal(1))

			dedup.Stop()
			Expect(bus.SubscriberCount()).To(Equal(0))
		})

		It("should reset the shown set when restarted", func() {
			alert := fireAlert()
			snapshot := &FakeSnapshot{Records: []*models.AlertRecord{alert}}

			Expect(dedup.Start(ctx, bus, snapshot)).To(Succeed())
			dedup.Stop()
			Expect(dedup.Start(ctx, bus, snapshot)).To(Succeed())

			Expect(presenter.Calls("show")).To(HaveLen(2))
		})
	})

	Describe("Resync", func() {
		var (
			bus  *processor.EventBus
			repo *repository.InMemoryAlertRepo
		)

		BeforeEach(func() {
			bus = processor.NewEventBus()
			DeferCleanup(bus.Stop)
			repo = repository.NewInMemoryAlertRepo()
		})

		It("should dismiss an alert whose close event was dropped by a full queue", func() {
			gated := &GatedPresenter{FakePresenter: presenter, Release: make(chan struct{})}
			dedup = notification.NewDeduplicator(shown, gated, notification.WithNameResolver(names))
			Expect(dedup.Start(ctx, bus, repo)).To(Succeed())

			first := fireAlert()
			Expect(repo.Create(ctx, first)).To(Succeed())
			bus.Publish(&processor.ChangeEvent{Type: processor.ChangeInsert, Record: first.Clone()})

			for i := 0; i < 300; i++ {
				other := fireAlert()
				Expect(repo.Create(ctx, other)).To(Succeed())
				bus.Publish(&processor.ChangeEvent{Type: processor.ChangeInsert, Record: other.Clone()})
			}

			resolved := first.Clone()
			resolved.Close(models.AlertStatusResolved, "operator", t0.Add(time.Minute))
			Expect(repo.Update(ctx, resolved)).To(Succeed())
			bus.Publish(&processor.ChangeEvent{Type: processor.ChangeUpdate, Record: resolved})

			close(gated.Release)

			Eventually(func() []call { return presenter.Calls("dismiss") }, 3*time.Second).
				Should(ContainElement(HaveField("Key", first.ID)))
			Eventually(dedup.Visible, 3*time.Second).Should(Equal(300))
			Expect(shown.IsVisible(first.ID)).To(BeFalse())
		})

		It("should show open alerts it missed and keep the rest", func() {
			kept := fireAlert()
			Expect(repo.Create(ctx, kept)).To(Succeed())
			Expect(dedup.Start(ctx, bus, repo)).To(Succeed())
			Expect(presenter.Calls("show")).To(HaveLen(1))

			missed := fireAlert()
			Expect(repo.Create(ctx, missed)).To(Succeed())

			Expect(dedup.Resync(ctx)).To(Succeed())
			Expect(presenter.Calls("show")).To(HaveLen(2))
			Expect(presenter.Calls("dismiss")).To(BeEmpty())
			Expect(dedup.Visible()).To(Equal(2))
		})

		It("should report snapshot failures and do nothing before Start", func() {
			Expect(dedup.Resync(ctx)).To(Succeed())

			snapshot := &FakeSnapshot{}
			Expect(dedup.Start(ctx, bus, snapshot)).To(Succeed())
			snapshot.Err = errors.New("store offline")
			Expect(dedup.Resync(ctx)).To(HaveOccurred())
		})
	})

	Describe("name lookup", func() {
		It("should resolve the location name without holding the lock", func() {
			resolver := &BlockingNames{Name: "Warehouse A", Entered: make(chan struct{}), Release: make(chan struct{})}
			dedup = notification.NewDeduplicator(shown, presenter, notification.WithNameResolver(resolver))

			done := make(chan notification.Action, 1)
			go func() { done <- dedup.Handle(ctx, fireAlert()) }()

			Eventually(resolver.Entered).Should(BeClosed())
			visible := make(chan int, 1)
			go func() { visible <- dedup.Visible() }()
			Eventually(visible).Should(Receive(Equal(0)))

			close(resolver.Release)
			Eventually(done).Should(Receive(Equal(notification.ActionShown)))
			Expect(presenter.Calls("show")[0].Notification.LocationName).To(Equal("Warehouse A"))
		})
	})

	Describe("end to end", func() {
		It("should show one notification for a fire and dismiss it on resolve", func() {
			bus := processor.NewEventBus()
			DeferCleanup(bus.Stop)
			repo := repository.NewInMemoryAlertRepo()
			manager := processor.NewLifecycleManager(repo, bus)
			evaluator := processor.NewThresholdEvaluator(processor.DefaultThresholds())

			Expect(dedup.Start(ctx, bus, repo)).To(Succeed())

			reading := &models.SensorReading{LocationID: locationID, Flame: true, Gas: 50, Temperature: 20}
			outcome, alert, err := manager.Process(ctx, locationID, evaluator.Evaluate(reading), reading)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(processor.OutcomeCreated))
			Expect(alert.AlertType).To(Equal(models.AlertTypeFire))
			Expect(alert.Severity).To(Equal(models.SeverityCritical))
			Expect(alert.Status).To(Equal(models.AlertStatusActive))

			Eventually(func() int { return len(presenter.Calls("show")) }).Should(Equal(1))
			Expect(presenter.Calls("show")[0].Key).To(Equal(alert.ID))

			alert.Close(models.AlertStatusResolved, "operator", alert.UpdatedAt.Add(time.Minute))
			Expect(repo.Update(ctx, alert)).To(Succeed())
			manager.Publish(processor.ChangeUpdate, alert)

			Eventually(func() int { return len(presenter.Calls("dismiss")) }).Should(Equal(1))
			Expect(presenter.Calls("dismiss")[0].Key).To(Equal(alert.ID))
			Expect(presenter.Calls("show")).To(HaveLen(1))
			Expect(audio.Plays()).To(Equal(1))
		})
	})
})

var _ = Describe("RepoNameResolver", func() {
	It("should resolve and cache names", func() {
		ctx := context.Background()
		repo := repository.NewInMemoryLocationRepo()
		location := &models.Location{Name: "Kitchen", ChannelID: "1"}
		Expect(repo.Create(ctx, location)).To(Succeed())

		resolver := notification.NewRepoNameResolver(repo)
		name, err := resolver.LocationName(ctx, location.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("Kitchen"))

		_, err = resolver.LocationName(ctx, uuid.New())
		Expect(err).To(MatchError(repository.ErrLocationNotFound))
	})
})
