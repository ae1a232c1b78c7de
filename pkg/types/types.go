package types

import (
	"time"
)

// Participant roles. A classroom has one teacher and any number of students.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// SeatStatus is the lifecycle status of a seat within a live classroom.
type SeatStatus string

const (
	SeatEmpty      SeatStatus = "empty"
	SeatOccupied   SeatStatus = "occupied"
	SeatHandRaised SeatStatus = "hand_raised"
	SeatSpeaking   SeatStatus = "speaking"
)

// Valid reports whether s is one of the known seat statuses.
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatEmpty, SeatOccupied, SeatHandRaised, SeatSpeaking:
		return true
	}
	return false
}

// Participant identifies a connected user within a classroom.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// ParticipantRef is the compact participant form embedded in wire messages
// and snapshots.
type ParticipantRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Seat is one slot a participant can occupy. Occupant is nil while the seat
// is empty.
type Seat struct {
	ID         string          `json:"id"`
	Position   int             `json:"position"`
	Status     SeatStatus      `json:"status"`
	Occupant   *ParticipantRef `json:"occupant,omitempty"`
	AssignedAt *time.Time      `json:"assigned_at,omitempty"`
}

// Turn is the exclusive, time-bounded right of one participant to speak.
// At most one turn is active per classroom.
type Turn struct {
	ID        string        `json:"id"`
	RoundID   string        `json:"round_id,omitempty"`
	SeatID    string        `json:"seat_id"`
	Student   ParticipantRef `json:"student"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"-"`
}

// Remaining returns the unconsumed portion of the turn's duration budget,
// clamped to zero.
func (t *Turn) Remaining(now time.Time) time.Duration {
	rem := t.Duration - now.Sub(t.StartedAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// Round is an update round: every occupied seat gets one turn, in random
// order, with a shared per-student duration budget.
type Round struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	TurnDuration time.Duration `json:"-"`
}

// RaisedHand is one entry of the raised-hand FIFO.
type RaisedHand struct {
	SeatID   string         `json:"seat_id"`
	Student  ParticipantRef `json:"student"`
	RaisedAt time.Time      `json:"raised_at"`
}

// Snapshot is an atomic view of one classroom's live state. A reconnecting
// client re-fetches a snapshot instead of replaying missed messages.
type Snapshot struct {
	ClassroomID string       `json:"classroom_id"`
	Name        string       `json:"name"`
	Seats       []Seat       `json:"seats"`
	RaisedHands []RaisedHand `json:"raised_hands"`
	ActiveTurn  *Turn        `json:"active_turn,omitempty"`
	ActiveRound *Round       `json:"active_round,omitempty"`
	// RemainingSeconds mirrors ActiveTurn's budget for clients that only
	// render a cosmetic countdown.
	RemainingSeconds int `json:"remaining_seconds,omitempty"`
}

// SeatForParticipant returns the seat currently owned by the given
// participant, or nil.
func (s *Snapshot) SeatForParticipant(participantID string) *Seat {
	for i := range s.Seats {
		if s.Seats[i].Occupant != nil && s.Seats[i].Occupant.ID == participantID {
			return &s.Seats[i]
		}
	}
	return nil
}
