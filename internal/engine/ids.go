package engine

import "github.com/google/uuid"

// IDGenerator mints operation ids. Implemented by UUIDGenerator in
// production and by testutil.FixedIDs in tests, where stable ids keep
// assertions readable.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator produces UUIDv7 ids, which sort by creation time.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
