package scale

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itohio/goweigh/pkg/telegram"
)

// StableWeight denotes a settled reading, emitted once per object placed on
// the scale.
type StableWeight struct {
	ID         uuid.UUID       // Unique per event, usable as a persistence key
	Weight     telegram.Weight // Settled weight
	Timestamp  time.Time       // Arrival of the telegram completing the settle
	Sequence   uint64          // Sequence number of that telegram
	SettleTime time.Duration   // Time from placement to settle
}

func (s StableWeight) String() string {
	return fmt.Sprintf("%s @ %s (settled in %s)", s.Weight, s.Timestamp.Format(time.RFC3339), s.SettleTime)
}

// Sample denotes a single decoded telegram.
type Sample struct {
	Sequence  uint64
	Weight    telegram.Weight
	Timestamp time.Time
}

// PortError denotes a transport error reported while listening. The driver
// keeps listening after it.
type PortError struct {
	Timestamp time.Time
	Err       error
}

func (e PortError) Error() string {
	return e.Err.Error()
}

func (e PortError) Unwrap() error {
	return e.Err
}
