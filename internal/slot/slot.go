// Package slot enforces finite-capacity delivery-time-slot booking:
// no more windows are promised for a (slot, date) pair than the slot's
// per-day ceiling allows, even under concurrent reservations.
package slot

import (
	"time"

	"github.com/google/uuid"
)

// SlotType distinguishes standard from fast delivery slots.
type SlotType string

const (
	TypeStandard SlotType = "standard"
	TypeFast     SlotType = "fast"
)

// DeliveryTimeSlot is a reusable booking template. Reference data,
// rarely mutated.
type DeliveryTimeSlot struct {
	ID               uuid.UUID
	CountryCode      string
	State            string
	Name             string
	Type             SlotType
	StartTime        string // HH:MM:SS, local to the slot's country
	EndTime          string
	MaxOrdersPerSlot int
	IsActive         bool
	DisplayOrder     int
}

// DeliveryTimeWindow is one order's booking against a slot template for
// a specific date. A cancelled window stops counting toward capacity.
type DeliveryTimeWindow struct {
	ID                  uuid.UUID
	OrderID             uuid.UUID
	SlotID              uuid.UUID
	PreferredDate       time.Time
	TimeSlotStart       string
	TimeSlotEnd         string
	IsConfirmed         bool
	ConfirmedBy         *uuid.UUID
	ConfirmedAt         *time.Time
	IsCancelled         bool
	SpecialInstructions string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SlotCapacity reports booking pressure for one slot on one date.
type SlotCapacity struct {
	SlotID            uuid.UUID
	Date              time.Time
	TotalCapacity     int
	BookedCount       int
	AvailableCapacity int
}

// AvailableSlot is a slot template annotated with its remaining
// capacity and time-based availability for a given date.
type AvailableSlot struct {
	DeliveryTimeSlot
	AvailableCapacity int
	IsAvailable       bool
}
