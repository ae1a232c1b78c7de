package classroom

import "errors"

var (
	ErrClassroomNotFound = errors.New("classroom not found")
	ErrClassroomExists   = errors.New("classroom already exists")
	ErrSeatNotFound      = errors.New("seat not found")
	ErrSeatOccupied      = errors.New("seat already occupied")
	ErrAlreadySeated     = errors.New("participant already owns a seat")
	ErrSeatNotOccupied   = errors.New("seat is not occupied")
	ErrNotSeated         = errors.New("participant has no seat")
	ErrTurnAlreadyActive = errors.New("a turn is already active")
	ErrNoSuchActiveTurn  = errors.New("no such active turn")
	ErrNoActiveSeats     = errors.New("no occupied seats for the update round")
)
