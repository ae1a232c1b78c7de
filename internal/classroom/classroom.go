package classroom

import (
	"sync"
	"time"

	"classroom/pkg/types"
)

// classroom is the per-session aggregate: ordered seats, the raised-hand
// FIFO, and at most one active turn/round. All access goes through mu so
// broadcast order always equals commit order for a single classroom.
type classroom struct {
	id   string
	name string

	mu           sync.Mutex
	seats        []types.Seat
	seatIndex    map[string]int    // seat ID -> index in seats
	ownerSeat    map[string]string // participant ID -> seat ID
	handQueue    []string          // seat IDs, insertion order = call order
	handRaisedAt map[string]time.Time
	turn         *types.Turn
	turnTimer    *time.Timer
	round        *roundState
}

// roundState tracks which seats have already had a turn in the active
// update round.
type roundState struct {
	round    types.Round
	eligible []string // seat IDs enrolled when the round started
	gone     map[string]bool
}

func (c *classroom) seat(seatID string) *types.Seat {
	idx, ok := c.seatIndex[seatID]
	if !ok {
		return nil
	}
	return &c.seats[idx]
}

// enqueueHand appends the seat to the raised-hand FIFO. A seat appears at
// most once.
func (c *classroom) enqueueHand(seatID string, at time.Time) {
	for _, id := range c.handQueue {
		if id == seatID {
			return
		}
	}
	c.handQueue = append(c.handQueue, seatID)
	c.handRaisedAt[seatID] = at
}

// dequeueHand removes the seat from whatever queue position it holds, not
// just the head.
func (c *classroom) dequeueHand(seatID string) {
	for i, id := range c.handQueue {
		if id == seatID {
			c.handQueue = append(c.handQueue[:i], c.handQueue[i+1:]...)
			break
		}
	}
	delete(c.handRaisedAt, seatID)
}

// clearSpeaking reverts every speaking seat back to occupied.
func (c *classroom) clearSpeaking() {
	for i := range c.seats {
		if c.seats[i].Status == types.SeatSpeaking {
			c.seats[i].Status = types.SeatOccupied
		}
	}
}

// remainingRoundSeats returns eligible seats that have not had a turn yet
// and are still occupied.
func (c *classroom) remainingRoundSeats() []string {
	if c.round == nil {
		return nil
	}
	var out []string
	for _, seatID := range c.round.eligible {
		if c.round.gone[seatID] {
			continue
		}
		seat := c.seat(seatID)
		if seat == nil || seat.Occupant == nil {
			continue
		}
		out = append(out, seatID)
	}
	return out
}

// snapshotLocked builds an atomic copy of the classroom state. Caller holds mu.
func (c *classroom) snapshotLocked(now time.Time) *types.Snapshot {
	snap := &types.Snapshot{
		ClassroomID: c.id,
		Name:        c.name,
		Seats:       make([]types.Seat, len(c.seats)),
	}
	copy(snap.Seats, c.seats)
	for i := range snap.Seats {
		if occ := snap.Seats[i].Occupant; occ != nil {
			cp := *occ
			snap.Seats[i].Occupant = &cp
		}
	}
	for _, seatID := range c.handQueue {
		seat := c.seat(seatID)
		if seat == nil || seat.Occupant == nil {
			continue
		}
		snap.RaisedHands = append(snap.RaisedHands, types.RaisedHand{
			SeatID:   seatID,
			Student:  *seat.Occupant,
			RaisedAt: c.handRaisedAt[seatID],
		})
	}
	if c.turn != nil {
		turn := *c.turn
		snap.ActiveTurn = &turn
		snap.RemainingSeconds = int(turn.Remaining(now).Seconds())
	}
	if c.round != nil {
		round := c.round.round
		snap.ActiveRound = &round
	}
	return snap
}
