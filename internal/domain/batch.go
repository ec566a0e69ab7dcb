package domain

import "time"

// SealReason records which trigger sealed a batch
type SealReason string

const (
	SealSize     SealReason = "size"
	SealTimeout  SealReason = "timeout"
	SealShutdown SealReason = "shutdown"
)

// Batch is an ordered sequence of events, immutable once sealed.
// Ownership transfers to the writer on handoff; the accumulator must
// not touch Events afterwards.
type Batch struct {
	ID         string
	Events     []Event
	CreatedAt  time.Time
	SealReason SealReason
}
