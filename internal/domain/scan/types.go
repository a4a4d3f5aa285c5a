// Package scan holds the most recent card scan seen by the broker.
package scan

import (
	"context"
	"time"
)

// LatestScan is the single-slot record of the last accepted scan.
// Both fields are nil until the first scan is recorded.
type LatestScan struct {
	CardID    *string
	ScannedAt *time.Time
}

// Empty reports whether no scan has been recorded yet.
func (l LatestScan) Empty() bool {
	return l.CardID == nil
}

// Clone returns a copy that shares no pointers with l.
func (l LatestScan) Clone() LatestScan {
	var c LatestScan
	if l.CardID != nil {
		card := *l.CardID
		c.CardID = &card
	}
	if l.ScannedAt != nil {
		at := *l.ScannedAt
		c.ScannedAt = &at
	}
	return c
}

// Next returns the record that replaces l when cardID is scanned at now.
// ScannedAt never moves backwards: a clock step back is clamped to the
// previous timestamp.
func (l LatestScan) Next(cardID string, now time.Time) LatestScan {
	at := now.UTC()
	if l.ScannedAt != nil && at.Before(*l.ScannedAt) {
		at = *l.ScannedAt
	}
	return LatestScan{CardID: &cardID, ScannedAt: &at}
}

// LatestStore is the one-per-broker cache of the last scan.
type LatestStore interface {
	// Record overwrites the slot with cardID scanned at now and returns the
	// stored value.
	Record(ctx context.Context, cardID string, now time.Time) (LatestScan, error)

	// Peek returns the current value, possibly empty.
	Peek(ctx context.Context) (LatestScan, error)
}
