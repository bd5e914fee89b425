package biblfs

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so metadata timestamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts identity generation for new text-metadata rows.
type IDGenerator interface {
	New() uuid.UUID
}

// UUIDGenerator produces random version 4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() uuid.UUID { return uuid.New() }
