package models_test

import (
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/firewatch/dashboard/internal/models"
)

var _ = Describe("AlertRecord", func() {
	var (
		locationID uuid.UUID
		reading    *models.SensorReading
		now        time.Time
	)

	BeforeEach(func() {
		locationID = uuid.New()
		now = time.Now().UTC()
		reading = &models.SensorReading{
			LocationID:  locationID,
			Temperature: 41.5,
			Humidity:    20,
			Flame:       true,
			Gas:         120,
			Motion:      false,
			CapturedAt:  now,
		}
	})

	Describe("NewAlertRecord", func() {
		It("should create an active alert with the classification and snapshot", func() {
			c := models.Classification{Type: models.AlertTypeFire, Severity: models.SeverityCritical}

			alert := models.NewAlertRecord(locationID, c, reading, now)

			Expect(alert.ID).NotTo(Equal(uuid.Nil))
			Expect(alert.LocationID).To(Equal(locationID))
			Expect(alert.AlertType).To(Equal(models.AlertTypeFire))
			Expect(alert.Severity).To(Equal(models.SeverityCritical))
			Expect(alert.Status).To(Equal(models.AlertStatusActive))
			Expect(alert.Timestamp).To(Equal(now))
			Expect(alert.ResolvedAt).To(BeNil())
			Expect(alert.ResolvedBy).To(BeNil())

			decoded, err := alert.Reading()
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded.Flame).To(BeTrue())
			Expect(decoded.Temperature).To(Equal(41.5))
		})

		It("should store an empty object for a nil reading", func() {
			c := models.Classification{Type: models.AlertTypeGasLeak, Severity: models.SeverityCritical}

			alert := models.NewAlertRecord(locationID, c, nil, now)

			Expect(string(alert.SensorValues)).To(Equal("{}"))
		})
	})

	Describe("TableName", func() {
		It("should return the correct table name", func() {
			Expect(models.AlertRecord{}.TableName()).To(Equal("alerts"))
			Expect(models.Location{}.TableName()).To(Equal("locations"))
		})
	})

	Describe("Redetect", func() {
		It("should overwrite detection fields but keep the status", func() {
			c := models.Classification{Type: models.AlertTypeFire, Severity: models.SeverityCritical}
			alert := models.NewAlertRecord(locationID, c, reading, now)
			alert.Status = models.AlertStatusInQueue

			later := now.Add(5 * time.Minute)
			reading.Flame = false
			reading.Gas = 900
			alert.Redetect(models.Classification{Type: models.AlertTypeGasLeak, Severity: models.SeverityCritical}, reading, later)

			Expect(alert.AlertType).To(Equal(models.AlertTypeGasLeak))
			Expect(alert.Status).To(Equal(models.AlertStatusInQueue))
			Expect(alert.Timestamp).To(Equal(later))
			Expect(alert.Version()).To(Equal(later))
		})
	})

	Describe("Close", func() {
		It("should set resolved_at and resolved_by", func() {
			c := models.Classification{Type: models.AlertTypeFire, Severity: models.SeverityCritical}
			alert := models.NewAlertRecord(locationID, c, reading, now)

			alert.Close(models.AlertStatusResolved, "user-1", now.Add(time.Minute))

			Expect(alert.Status).To(Equal(models.AlertStatusResolved))
			Expect(alert.ResolvedAt).NotTo(BeNil())
			Expect(*alert.ResolvedBy).To(Equal("user-1"))
			Expect(alert.IsOpen()).To(BeFalse())
		})
	})

	Describe("Clone", func() {
		It("should not share the snapshot buffer", func() {
			c := models.Classification{Type: models.AlertTypeFire, Severity: models.SeverityCritical}
			alert := models.NewAlertRecord(locationID, c, reading, now)

			clone := alert.Clone()
			clone.SensorValues[0] = 'x'

			Expect(alert.SensorValues[0]).To(Equal(byte('{')))
		})
	})
})

var _ = Describe("AlertStatus", func() {
	DescribeTable("open and closed statuses",
		func(status models.AlertStatus, open, closed bool) {
			Expect(status.IsOpen()).To(Equal(open))
			Expect(status.IsClosed()).To(Equal(closed))
			Expect(status.Valid()).To(BeTrue())
		},
		Entry("active", models.AlertStatusActive, true, false),
		Entry("in_queue", models.AlertStatusInQueue, true, false),
		Entry("resolved", models.AlertStatusResolved, false, true),
		Entry("false_alarm", models.AlertStatusFalseAlarm, false, true),
	)

	It("should reject unknown statuses", func() {
		Expect(models.AlertStatus("unsolved").Valid()).To(BeFalse())
	})
})
