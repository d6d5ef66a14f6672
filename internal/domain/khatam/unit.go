// internal/domain/khatam/unit.go
package khatam

import (
	"database/sql"
	"time"
)

// TotalUnits is the number of Juz in one Khatam. Every board holds exactly this many units.
const TotalUnits = 30

// AnonymousName replaces a missing claimant name when a cycle is archived.
const AnonymousName = "Anonymous"

// Unit is one Juz on the board. Corresponds to the 'khatam_units' table.
type Unit struct {
	Index        int            // 1..30, immutable
	ClaimantName sql.NullString // Valid iff the unit is claimed
	ClaimedAt    sql.NullTime
}

// Claimed reports whether somebody has taken this unit in the current cycle.
func (u Unit) Claimed() bool {
	return u.ClaimantName.Valid
}

// ValidIndex reports whether i addresses a unit on the board.
func ValidIndex(i int) bool {
	return i >= 1 && i <= TotalUnits
}

// Board is the ordered set of units as read from the store.
type Board []Unit

// ClaimedCount returns the number of claimed units. It never exceeds TotalUnits
// for a board read from a well-formed store.
func (b Board) ClaimedCount() int {
	n := 0
	for _, u := range b {
		if u.Claimed() {
			n++
		}
	}
	return n
}

// IsComplete reports whether every one of the TotalUnits units is claimed.
func (b Board) IsComplete() bool {
	return len(b) >= TotalUnits && b.ClaimedCount() == TotalUnits
}

// Unclaimed returns the indices still open for claiming, in board order.
func (b Board) Unclaimed() []int {
	open := make([]int, 0, len(b))
	for _, u := range b {
		if !u.Claimed() {
			open = append(open, u.Index)
		}
	}
	return open
}

// Unit returns the unit with the given index, if present.
func (b Board) Unit(index int) (Unit, bool) {
	for _, u := range b {
		if u.Index == index {
			return u, true
		}
	}
	return Unit{}, false
}

// Metadata is the singleton cycle record. Corresponds to the 'khatam_metadata' table.
type Metadata struct {
	CycleCount     int    // completed khatams in RecordedPeriod
	RecordedPeriod string // period under which the current board was last validated
	UpdatedAt      time.Time
}

// SameState compares the fields that take part in conditional writes.
func (m Metadata) SameState(other Metadata) bool {
	return m.CycleCount == other.CycleCount && m.RecordedPeriod == other.RecordedPeriod
}

// HistoryEntry is one archived unit claim. Corresponds to the 'khatam_history' table.
type HistoryEntry struct {
	ID           int64
	CycleNumber  int
	UnitIndex    int
	ClaimantName string
	PeriodName   string
	ArchivedAt   time.Time
}
