package uow

import "github.com/google/uuid"

// IdentifierGenerator issues identifiers for entities mapped with the uuid
// generator. Sessions default to time-ordered UUIDs; tests substitute a
// deterministic generator.
type IdentifierGenerator interface {
	NextID() string
}

// UUIDGenerator issues version 7 UUIDs so generated keys sort by creation
// time.
type UUIDGenerator struct{}

// NextID returns a new UUID string. Falls back to a random version 4 UUID
// when the system entropy source fails mid-read.
func (UUIDGenerator) NextID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
