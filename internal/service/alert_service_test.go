package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/firewatch/dashboard/internal/models"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/firewatch/dashboard/internal/repository"
	"github.com/firewatch/dashboard/internal/service"
	"github.com/firewatch/dashboard/internal/telemetry"
	"github.com/google/uuid"
)

// FakeFetcher returns a fixed reading or error
type FakeFetcher struct {
	Reading *models.SensorReading
	Err     error
	Calls   []telemetry.Channel
}

func (f *FakeFetcher) Latest(ctx context.Context, channel telemetry.Channel) (*models.SensorReading, error) {
	f.Calls = append(f.Calls, channel)
	if f.Err != nil {
		return nil, f.Err
	}
	r := *f.Reading
	return &r, nil
}

// MockAlertRepo wraps the in-memory repo and lets tests override calls
type MockAlertRepo struct {
	*repository.InMemoryAlertRepo
	CreateFunc          func(ctx context.Context, alert *models.AlertRecord) error
	UpdateFunc          func(ctx context.Context, alert *models.AlertRecord) error
	CountBySeverityFunc func(ctx context.Context, severity models.Severity) (int64, error)
}

func (m *MockAlertRepo) Create(ctx context.Context, alert *models.AlertRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, alert)
	}
	return m.InMemoryAlertRepo.Create(ctx, alert)
}

func (m *MockAlertRepo) Update(ctx context.Context, alert *models.AlertRecord) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, alert)
	}
	return m.InMemoryAlertRepo.Update(ctx, alert)
}

func (m *MockAlertRepo) CountBySeverity(ctx context.Context, severity models.Severity) (int64, error) {
	if m.CountBySeverityFunc != nil {
		return m.CountBySeverityFunc(ctx, severity)
	}
	return m.InMemoryAlertRepo.CountBySeverity(ctx, severity)
}

// changeRecorder collects change events
type changeRecorder struct {
	mu     sync.Mutex
	events []*processor.ChangeEvent
}

func (r *changeRecorder) OnChange(ctx context.Context, event *processor.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *changeRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *changeRecorder) Last() *processor.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

var _ = Describe("AlertService", func() {
	var (
		ctx          context.Context
		alertRepo    *MockAlertRepo
		locationRepo *repository.InMemoryLocationRepo
		fetcher      *FakeFetcher
		bus          *processor.EventBus
		recorder     *changeRecorder
		now          time.Time
		alertService service.AlertService
		warehouse    *models.Location
	)

	BeforeEach(func() {
		ctx = context.Background()
		alertRepo = &MockAlertRepo{InMemoryAlertRepo: repository.NewInMemoryAlertRepo()}
		locationRepo = repository.NewInMemoryLocationRepo()
		fetcher = &FakeFetcher{Reading: &models.SensorReading{Temperature: 22, Humidity: 40, Gas: 120}}
		bus = processor.NewEventBus()
		DeferCleanup(bus.Stop)
		recorder = &changeRecorder{}
		bus.Subscribe(recorder)

		now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		manager := processor.NewLifecycleManager(alertRepo, bus, processor.WithClock(clock))
		engine := processor.NewEvaluatorEngine(processor.NewThresholdEvaluator(processor.DefaultThresholds()), manager, 1, 10)
		alertService = service.NewAlertService(alertRepo, locationRepo, fetcher, engine)

		warehouse = &models.Location{Name: "Warehouse", ChannelID: "1001", ReadKey: "KEY"}
		Expect(locationRepo.Create(ctx, warehouse)).To(Succeed())
	})

	Describe("Evaluate", func() {
		It("should create an alert for a flame reading", func() {
			fetcher.Reading = &models.SensorReading{Flame: true, Gas: 50, Temperature: 20}

			result, err := alertService.Evaluate(ctx, warehouse.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(result.Created).To(BeTrue())
			Expect(result.Updated).To(BeFalse())
			Expect(result.Alert.AlertType).To(Equal(models.AlertTypeFire))
			Expect(result.Alert.Severity).To(Equal(models.SeverityCritical))
			Expect(result.Alert.Status).To(Equal(models.AlertStatusActive))
			Expect(result.Alert.LocationID).To(Equal(warehouse.ID))

			Expect(fetcher.Calls).To(ConsistOf(telemetry.Channel{Name: "Warehouse", ChannelID: "1001", ReadKey: "KEY"}))
			Eventually(recorder.Len).Should(Equal(1))
			Expect(recorder.Last().Type).To(Equal(processor.ChangeInsert))
		})

		It("should update the open alert on the next breach", func() {
			fetcher.Reading = &models.SensorReading{Temperature: 40}
			first, err := alertService.Evaluate(ctx, warehouse.ID)
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(10 * time.Minute)
			fetcher.Reading = &models.SensorReading{Gas: 800}
			second, err := alertService.Evaluate(ctx, warehouse.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Updated).To(BeTrue())
			Expect(second.Alert.ID).To(Equal(first.Alert.ID))
			Expect(second.Alert.AlertType).To(Equal(models.AlertTypeGasLeak))

			count, err := alertRepo.CountByLocation(ctx, warehouse.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
		})

		It("should report nominal sensors without writing", func() {
			result, err := alertService.Evaluate(ctx, warehouse.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(result.Alert).To(BeNil())
			Expect(result.Created).To(BeFalse())

			count, _ := alertRepo.Count(ctx)
			Expect(count).To(BeZero())
		})

		It("should treat missing telemetry as nothing to evaluate", func() {
			fetcher.Err = telemetry.ErrNoData

			result, err := alertService.Evaluate(ctx, warehouse.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(result.Message).To(Equal(service.NoSensorDataMessage))
			Expect(result.Alert).To(BeNil())
		})

		It("should reject an unknown location", func() {
			_, err := alertService.Evaluate(ctx, uuid.New())
			Expect(err).To(MatchError(service.ErrLocationNotFound))
		})

		It("should propagate store failures without publishing", func() {
			storeErr := errors.New("database error")
			alertRepo.CreateFunc = func(ctx context.Context, alert *models.AlertRecord) error { return storeErr }
			fetcher.Reading = &models.SensorReading{Flame: true}

			_, err := alertService.Evaluate(ctx, warehouse.ID)
			Expect(err).To(MatchError(storeErr))
			Consistently(recorder.Len, 30*time.Millisecond).Should(BeZero())
		})
	})

	Describe("UpdateStatus", func() {
		var alert *models.AlertRecord

		BeforeEach(func() {
			fetcher.Reading = &models.SensorReading{Flame: true}
			result, err := alertService.Evaluate(ctx, warehouse.ID)
			Expect(err).NotTo(HaveOccurred())
			alert = result.Alert
			Eventually(recorder.Len).Should(Equal(1))
			now = now.Add(time.Minute)
		})

		It("should resolve an open alert", func() {
			updated, err := alertService.UpdateStatus(ctx, alert.ID, models.AlertStatusResolved, "operator@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(models.AlertStatusResolved))
			Expect(*updated.ResolvedBy).To(Equal("operator@example.com"))
			Expect(*updated.ResolvedAt).To(Equal(now))

			Eventually(recorder.Len).Should(Equal(2))
			Expect(recorder.Last().Type).To(Equal(processor.ChangeUpdate))
			Expect(recorder.Last().Record.Status).To(Equal(models.AlertStatusResolved))
		})

		It("should move between active and in_queue without closing", func() {
			updated, err := alertService.UpdateStatus(ctx, alert.ID, models.AlertStatusInQueue, "operator")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(models.AlertStatusInQueue))
			Expect(updated.ResolvedAt).To(BeNil())

			back, err := alertService.UpdateStatus(ctx, alert.ID, models.AlertStatusActive, "operator")
			Expect(err).NotTo(HaveOccurred())
			Expect(back.Status).To(Equal(models.AlertStatusActive))
		})

		It("should require a caller before touching the store", func() {
			alertRepo.UpdateFunc = func(ctx context.Context, alert *models.AlertRecord) error {
				Fail("store must not be written")
				return nil
			}
			_, err := alertService.UpdateStatus(ctx, alert.ID, models.AlertStatusResolved, "")
			Expect(err).To(MatchError(service.ErrUnauthorized))
		})

		It("should reject unknown statuses", func() {
			_, err := alertService.UpdateStatus(ctx, alert.ID, models.AlertStatus("unsolved"), "operator")
			Expect(err).To(MatchError(service.ErrInvalidStatus))
		})

		It("should reject unknown alerts", func() {
			_, err := alertService.UpdateStatus(ctx, uuid.New(), models.AlertStatusResolved, "operator")
			Expect(err).To(MatchError(service.ErrAlertNotFound))
		})

		It("should keep closed alerts closed", func() {
			_, err := alertService.UpdateStatus(ctx, alert.ID, models.AlertStatusFalseAlarm, "operator")
			Expect(err).NotTo(HaveOccurred())

			_, err = alertService.UpdateStatus(ctx, alert.ID, models.AlertStatusActive, "operator")
			Expect(err).To(MatchError(service.ErrInvalidTransition))
		})

		It("should create a fresh alert after a resolve", func() {
			_, err := alertService.UpdateStatus(ctx, alert.ID, models.AlertStatusResolved, "operator")
			Expect(err).NotTo(HaveOccurred())

			result, err := alertService.Evaluate(ctx, warehouse.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Created).To(BeTrue())
			Expect(result.Alert.ID).NotTo(Equal(alert.ID))
		})

		It("should not publish when the write fails", func() {
			alertRepo.UpdateFunc = func(ctx context.Context, alert *models.AlertRecord) error {
				return errors.New("database error")
			}
			_, err := alertService.UpdateStatus(ctx, alert.ID, models.AlertStatusResolved, "operator")
			Expect(err).To(HaveOccurred())
			Consistently(recorder.Len, 30*time.Millisecond).Should(Equal(1))
		})
	})

	Describe("queries", func() {
		BeforeEach(func() {
			kitchen := &models.Location{Name: "Kitchen", ChannelID: "1002"}
			Expect(locationRepo.Create(ctx, kitchen)).To(Succeed())

			fetcher.Reading = &models.SensorReading{Temperature: 45}
			_, err := alertService.Evaluate(ctx, warehouse.ID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should list locations with their status", func() {
			statuses, err := alertService.ListLocations(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(statuses).To(HaveLen(2))

			Expect(statuses[0].Name).To(Equal("Kitchen"))
			Expect(statuses[0].Status).To(Equal(service.LocationStatusNormal))
			Expect(statuses[0].Alert).To(BeNil())

			Expect(statuses[1].Name).To(Equal("Warehouse"))
			Expect(statuses[1].Status).To(Equal(service.LocationStatusAlert))
			Expect(statuses[1].Alert.AlertType).To(Equal(models.AlertTypeTemperature))
		})

		It("should count alerts", func() {
			total, err := alertService.GetTotalAlertsCount(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(int64(1)))

			active, err := alertService.GetActiveAlertsCount(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(Equal(int64(1)))

			counts, err := alertService.GetSeverityCounts(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(counts.Critical).To(Equal(int64(1)))
			Expect(counts.Low).To(BeZero())
		})

		It("should return severity count errors", func() {
			expectedErr := errors.New("database error")
			alertRepo.CountBySeverityFunc = func(ctx context.Context, severity models.Severity) (int64, error) {
				return 0, expectedErr
			}
			_, err := alertService.GetSeverityCounts(ctx)
			Expect(err).To(MatchError(expectedErr))
		})

		It("should return open and recent alerts", func() {
			open, err := alertService.GetOpenAlerts(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(open).To(HaveLen(1))

			recent, err := alertService.GetRecentAlerts(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recent).To(HaveLen(1))
		})
	})
})
