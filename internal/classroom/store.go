package classroom

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"classroom/pkg/types"
)

// Broadcaster receives every committed mutation, exactly once, in commit
// order. Publish is invoked while the classroom's lock is held and must not
// block; delivery to individual connections is the implementation's problem.
type Broadcaster interface {
	Publish(classroomID string, payload types.Payload)
}

// HandAction reports what a raise/lower call actually did.
type HandAction string

const (
	HandRaised    HandAction = "raised"
	HandLowered   HandAction = "lowered"
	HandUnchanged HandAction = "unchanged"
)

// TurnTransition is the outcome of ending a turn: either the round advanced
// to a new speaker, the round completed, or an ad-hoc turn simply ended.
type TurnTransition struct {
	Ended     types.Turn
	NextTurn  *types.Turn
	Completed bool
}

// Store is the single source of truth for all live classroom state.
// Mutations of one classroom are serialized; classrooms are independent.
type Store struct {
	mu         sync.RWMutex
	classrooms map[string]*classroom
	turnIndex  map[string]string // turn ID -> classroom ID

	broadcaster  Broadcaster
	logger       *slog.Logger
	now          func() time.Time
	pickSeat     func(n int) int // random seat selection, overridable in tests
	turnDuration time.Duration   // default budget for ad-hoc turns
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithDefaultTurnDuration sets the budget used when a teacher calls on a
// student outside an update round.
func WithDefaultTurnDuration(d time.Duration) Option {
	return func(s *Store) { s.turnDuration = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSeatPicker overrides random speaker selection.
func WithSeatPicker(pick func(n int) int) Option {
	return func(s *Store) { s.pickSeat = pick }
}

// NewStore creates an empty store publishing committed mutations to b.
func NewStore(b Broadcaster, opts ...Option) *Store {
	s := &Store{
		classrooms:   make(map[string]*classroom),
		turnIndex:    make(map[string]string),
		broadcaster:  b,
		logger:       slog.Default(),
		now:          time.Now,
		pickSeat:     rand.Intn,
		turnDuration: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateClassroom creates a classroom with seatCount empty seats, ordered by
// position. Seat IDs are "seat-<position>".
func (s *Store) CreateClassroom(id, name string, seatCount int) (*types.Snapshot, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if seatCount <= 0 {
		return nil, fmt.Errorf("classroom %s: seat count must be positive", id)
	}

	c := &classroom{
		id:           id,
		name:         name,
		seats:        make([]types.Seat, seatCount),
		seatIndex:    make(map[string]int, seatCount),
		ownerSeat:    make(map[string]string),
		handRaisedAt: make(map[string]time.Time),
	}
	for i := range c.seats {
		seatID := fmt.Sprintf("seat-%d", i)
		c.seats[i] = types.Seat{ID: seatID, Position: i, Status: types.SeatEmpty}
		c.seatIndex[seatID] = i
	}

	s.mu.Lock()
	if _, exists := s.classrooms[id]; exists {
		s.mu.Unlock()
		return nil, ErrClassroomExists
	}
	s.classrooms[id] = c
	s.mu.Unlock()

	// The classroom is reachable once it is in the map, so the returned
	// snapshot must be built under its lock.
	c.mu.Lock()
	snap := c.snapshotLocked(s.now())
	c.mu.Unlock()

	s.logger.Info("classroom created", "classroom_id", id, "name", name, "seats", seatCount)
	return snap, nil
}

// CloseClassroom destroys a classroom's live state and tells every
// participant why.
func (s *Store) CloseClassroom(id, reason string) error {
	s.mu.Lock()
	c, ok := s.classrooms[id]
	if !ok {
		s.mu.Unlock()
		return ErrClassroomNotFound
	}
	delete(s.classrooms, id)
	s.mu.Unlock()

	c.mu.Lock()
	if c.turnTimer != nil {
		c.turnTimer.Stop()
	}
	if c.turn != nil {
		s.dropTurnIndex(c.turn.ID)
	}
	s.broadcaster.Publish(id, &types.ClassroomClosed{Reason: reason})
	c.mu.Unlock()

	s.logger.Info("classroom closed", "classroom_id", id, "reason", reason)
	return nil
}

// Exists reports whether a classroom is live.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.classrooms[id]
	return ok
}

// Snapshot returns an atomic copy of one classroom's state. Reconnecting
// clients resynchronize from this instead of replaying missed messages.
func (s *Store) Snapshot(id string) (*types.Snapshot, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(s.now()), nil
}

// RaisedHands returns the current raised-hand queue in call order.
func (s *Store) RaisedHands(id string) ([]types.RaisedHand, error) {
	snap, err := s.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return snap.RaisedHands, nil
}

// SeatOf returns the seat owned by a participant.
func (s *Store) SeatOf(classroomID, participantID string) (*types.Seat, error) {
	c, err := s.get(classroomID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seatID, ok := c.ownerSeat[participantID]
	if !ok {
		return nil, ErrNotSeated
	}
	seat := *c.seat(seatID)
	return &seat, nil
}

// AssignSeat seats a participant. It fails with ErrSeatOccupied if another
// participant holds the seat and ErrAlreadySeated if the caller already owns
// a different seat. Re-selecting the owned seat is an idempotent no-op.
func (s *Store) AssignSeat(classroomID string, p types.Participant, seatID string) (*types.Seat, error) {
	c, err := s.get(classroomID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seat := c.seat(seatID)
	if seat == nil {
		return nil, ErrSeatNotFound
	}
	if owned, ok := c.ownerSeat[p.ID]; ok {
		if owned == seatID {
			cp := *seat
			return &cp, nil
		}
		return nil, ErrAlreadySeated
	}
	if seat.Occupant != nil {
		return nil, ErrSeatOccupied
	}

	now := s.now()
	seat.Status = types.SeatOccupied
	seat.Occupant = &types.ParticipantRef{ID: p.ID, Username: p.Name}
	seat.AssignedAt = &now
	c.ownerSeat[p.ID] = seatID

	s.broadcaster.Publish(classroomID, &types.SeatUpdate{
		SeatID:      seatID,
		Status:      types.SeatOccupied,
		StudentID:   p.ID,
		StudentName: p.Name,
	})
	s.logger.Info("seat assigned", "classroom_id", classroomID, "seat_id", seatID, "user_id", p.ID)

	cp := *seat
	return &cp, nil
}

// ReleaseSeat vacates the participant's seat, removing any queued hand.
func (s *Store) ReleaseSeat(classroomID, participantID string) (*types.Seat, error) {
	c, err := s.get(classroomID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seatID, ok := c.ownerSeat[participantID]
	if !ok {
		return nil, ErrNotSeated
	}
	seat := c.seat(seatID)

	c.dequeueHand(seatID)
	delete(c.ownerSeat, participantID)
	seat.Status = types.SeatEmpty
	seat.Occupant = nil
	seat.AssignedAt = nil

	s.broadcaster.Publish(classroomID, &types.SeatUpdate{
		SeatID: seatID,
		Status: types.SeatEmpty,
	})
	s.logger.Info("seat released", "classroom_id", classroomID, "seat_id", seatID, "user_id", participantID)

	cp := *seat
	return &cp, nil
}

// SetHandRaised raises or lowers the hand on a seat. Raising enqueues the
// seat at the tail of the FIFO; lowering removes it from whatever position
// it holds. A no-op request (already raised / already lowered) commits
// nothing and broadcasts nothing.
func (s *Store) SetHandRaised(classroomID, seatID string, raised bool) (HandAction, error) {
	c, err := s.get(classroomID)
	if err != nil {
		return HandUnchanged, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seat := c.seat(seatID)
	if seat == nil {
		return HandUnchanged, ErrSeatNotFound
	}
	if seat.Occupant == nil {
		return HandUnchanged, ErrSeatNotOccupied
	}

	var action HandAction
	switch {
	case raised && seat.Status == types.SeatOccupied:
		seat.Status = types.SeatHandRaised
		c.enqueueHand(seatID, s.now())
		action = HandRaised
	case !raised && seat.Status == types.SeatHandRaised:
		seat.Status = types.SeatOccupied
		c.dequeueHand(seatID)
		action = HandLowered
	default:
		return HandUnchanged, nil
	}

	s.broadcaster.Publish(classroomID, &types.HandRaise{
		SeatID:      seatID,
		Raised:      raised,
		StudentID:   seat.Occupant.ID,
		StudentName: seat.Occupant.Username,
	})
	s.logger.Info("hand status changed", "classroom_id", classroomID, "seat_id", seatID, "action", string(action))
	return action, nil
}

// StartTurn gives the speaking turn to the occupant of seatID, clearing that
// seat's raised hand and demoting any previous speaker. Fails with
// ErrTurnAlreadyActive while another turn is live. A non-positive duration
// uses the store default.
func (s *Store) StartTurn(classroomID, seatID string, duration time.Duration) (*types.Turn, error) {
	c, err := s.get(classroomID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return s.startTurnLocked(c, seatID, duration, "")
}

// StartRound begins an update round over the given seats (or every occupied
// seat when seatIDs is empty) and immediately starts the first turn with a
// randomly chosen speaker.
func (s *Store) StartRound(classroomID string, duration time.Duration, seatIDs []string) (*types.Round, *types.Turn, error) {
	c, err := s.get(classroomID)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.turn != nil || c.round != nil {
		return nil, nil, ErrTurnAlreadyActive
	}
	if duration <= 0 {
		duration = s.turnDuration
	}

	eligible := s.eligibleSeats(c, seatIDs)
	if len(eligible) == 0 {
		return nil, nil, ErrNoActiveSeats
	}

	round := types.Round{
		ID:           uuid.New().String(),
		StartedAt:    s.now(),
		TurnDuration: duration,
	}
	c.round = &roundState{
		round:    round,
		eligible: eligible,
		gone:     make(map[string]bool, len(eligible)),
	}

	s.broadcaster.Publish(classroomID, &types.UpdateRound{
		RoundID:       round.ID,
		Action:        types.RoundActionStarted,
		RemainingTime: int(duration.Seconds()),
	})
	s.logger.Info("update round started", "classroom_id", classroomID, "round_id", round.ID, "seats", len(eligible))

	first := eligible[s.pickSeat(len(eligible))]
	turn, err := s.startTurnLocked(c, first, duration, round.ID)
	if err != nil {
		// Nothing can hold a turn yet; the eligible seats were just checked.
		c.round = nil
		return nil, nil, err
	}
	return &round, turn, nil
}

// EndTurn ends the active turn identified by turnID. Inside a round the next
// speaker is selected at random from seats that have not gone yet; when none
// remain the round completes.
func (s *Store) EndTurn(classroomID, turnID string) (*TurnTransition, error) {
	c, err := s.get(classroomID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return s.endTurnLocked(c, turnID)
}

// LookupTurn resolves an active turn ID to its classroom and turn data.
func (s *Store) LookupTurn(turnID string) (string, *types.Turn, bool) {
	s.mu.RLock()
	classroomID, ok := s.turnIndex[turnID]
	c := s.classrooms[classroomID]
	s.mu.RUnlock()
	if !ok || c == nil {
		return "", nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil || c.turn.ID != turnID {
		return "", nil, false
	}
	turn := *c.turn
	return classroomID, &turn, true
}

// IsSeatOwner reports whether the participant owns the given seat.
func (s *Store) IsSeatOwner(classroomID, participantID, seatID string) bool {
	c, err := s.get(classroomID)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownerSeat[participantID] == seatID
}

func (s *Store) get(id string) (*classroom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classrooms[id]
	if !ok {
		return nil, ErrClassroomNotFound
	}
	return c, nil
}

func (s *Store) indexTurn(turnID, classroomID string) {
	s.mu.Lock()
	s.turnIndex[turnID] = classroomID
	s.mu.Unlock()
}

func (s *Store) dropTurnIndex(turnID string) {
	s.mu.Lock()
	delete(s.turnIndex, turnID)
	s.mu.Unlock()
}

// eligibleSeats resolves the round roster: the requested seats that are
// occupied, or every occupied seat when no subset was requested.
func (s *Store) eligibleSeats(c *classroom, seatIDs []string) []string {
	var eligible []string
	if len(seatIDs) > 0 {
		for _, id := range seatIDs {
			if seat := c.seat(id); seat != nil && seat.Occupant != nil {
				eligible = append(eligible, id)
			}
		}
		return eligible
	}
	for i := range c.seats {
		if c.seats[i].Occupant != nil {
			eligible = append(eligible, c.seats[i].ID)
		}
	}
	return eligible
}

// startTurnLocked commits a new turn. Caller holds c.mu.
func (s *Store) startTurnLocked(c *classroom, seatID string, duration time.Duration, roundID string) (*types.Turn, error) {
	if c.turn != nil {
		return nil, ErrTurnAlreadyActive
	}
	seat := c.seat(seatID)
	if seat == nil {
		return nil, ErrSeatNotFound
	}
	if seat.Occupant == nil {
		return nil, ErrSeatNotOccupied
	}
	if duration <= 0 {
		duration = s.turnDuration
	}

	c.dequeueHand(seatID)
	c.clearSpeaking()
	seat.Status = types.SeatSpeaking

	turn := &types.Turn{
		ID:        uuid.New().String(),
		RoundID:   roundID,
		SeatID:    seatID,
		Student:   *seat.Occupant,
		StartedAt: s.now(),
		Duration:  duration,
	}
	c.turn = turn
	s.indexTurn(turn.ID, c.id)

	turnID := turn.ID
	classroomID := c.id
	c.turnTimer = time.AfterFunc(duration, func() {
		s.expireTurn(classroomID, turnID)
	})

	s.broadcaster.Publish(c.id, &types.UpdateRound{
		RoundID:        roundID,
		Action:         types.RoundActionTurnStarted,
		TurnID:         turn.ID,
		SeatID:         seatID,
		CurrentStudent: &turn.Student,
		RemainingTime:  int(duration.Seconds()),
	})
	s.logger.Info("turn started",
		"classroom_id", c.id, "turn_id", turn.ID, "seat_id", seatID, "user_id", turn.Student.ID)

	cp := *turn
	return &cp, nil
}

// endTurnLocked commits the end of the active turn and, inside a round,
// advances or completes it. Caller holds c.mu.
func (s *Store) endTurnLocked(c *classroom, turnID string) (*TurnTransition, error) {
	if c.turn == nil || c.turn.ID != turnID {
		return nil, ErrNoSuchActiveTurn
	}

	ended := *c.turn
	if c.turnTimer != nil {
		c.turnTimer.Stop()
		c.turnTimer = nil
	}
	c.turn = nil
	s.dropTurnIndex(turnID)

	if seat := c.seat(ended.SeatID); seat != nil && seat.Status == types.SeatSpeaking {
		seat.Status = types.SeatOccupied
	}

	roundID := ended.RoundID
	s.broadcaster.Publish(c.id, &types.UpdateRound{
		RoundID: roundID,
		Action:  types.RoundActionTurnEnded,
		TurnID:  ended.ID,
		SeatID:  ended.SeatID,
	})
	s.logger.Info("turn ended", "classroom_id", c.id, "turn_id", ended.ID, "seat_id", ended.SeatID)

	transition := &TurnTransition{Ended: ended}
	if c.round == nil || c.round.round.ID != roundID {
		return transition, nil
	}

	c.round.gone[ended.SeatID] = true
	remaining := c.remainingRoundSeats()
	if len(remaining) == 0 {
		s.broadcaster.Publish(c.id, &types.UpdateRound{
			RoundID: roundID,
			Action:  types.RoundActionCompleted,
		})
		s.logger.Info("update round completed", "classroom_id", c.id, "round_id", roundID)
		c.round = nil
		transition.Completed = true
		return transition, nil
	}

	next := remaining[s.pickSeat(len(remaining))]
	nextTurn, err := s.startTurnLocked(c, next, c.round.round.TurnDuration, roundID)
	if err != nil {
		// Remaining seats were filtered to occupied ones under the same lock.
		return nil, fmt.Errorf("advance round %s: %w", roundID, err)
	}
	transition.NextTurn = nextTurn
	return transition, nil
}

// expireTurn is the server-authoritative timer path: it ends an overdue turn
// exactly as an explicit end-turn would, unless the turn already ended.
func (s *Store) expireTurn(classroomID, turnID string) {
	c, err := s.get(classroomID)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil || c.turn.ID != turnID {
		return
	}
	if _, err := s.endTurnLocked(c, turnID); err != nil {
		s.logger.Error("turn expiry failed", "classroom_id", classroomID, "turn_id", turnID, "error", err)
		return
	}
	s.logger.Info("turn expired", "classroom_id", classroomID, "turn_id", turnID)
}
