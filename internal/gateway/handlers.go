package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"classroom/internal/classroom"
	"classroom/internal/identity"
	"classroom/pkg/types"
)

type createClassroomRequest struct {
	ClassroomID string `json:"classroom_id"`
	Name        string `json:"name" validate:"required,max=200"`
	SeatCount   int    `json:"seat_count" validate:"required,min=1,max=500"`
}

type selectSeatRequest struct {
	SeatID string `json:"seat_id" validate:"required"`
}

type raiseHandRequest struct {
	ClassroomID string `json:"classroom_id" validate:"required"`
	SeatID      string `json:"seat_id"`
	Raised      *bool  `json:"raised"`
}

type callOnRequest struct {
	SeatID          string `json:"seat_id" validate:"required"`
	DurationSeconds int    `json:"duration_seconds" validate:"min=0,max=3600"`
}

type startRoundRequest struct {
	DurationSeconds int      `json:"duration_seconds" validate:"min=0,max=3600"`
	Seats           []string `json:"seats"`
}

func (s *Server) handleCreate(c echo.Context) error {
	var req createClassroomRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request body", nil)
	}
	if err := c.Validate(&req); err != nil {
		return respond(c, http.StatusBadRequest, "name and a positive seat_count are required", nil)
	}

	snap, err := s.store.CreateClassroom(req.ClassroomID, req.Name, req.SeatCount)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, http.StatusCreated, "Classroom created.", echo.Map{"state": snap})
}

func (s *Server) handleClose(c echo.Context) error {
	reason := c.QueryParam("reason")
	if reason == "" {
		reason = "The classroom has been closed by the teacher."
	}
	if err := s.store.CloseClassroom(c.Param("classroomID"), reason); err != nil {
		return s.fail(c, err)
	}
	return respond(c, http.StatusOK, "Classroom closed.", nil)
}

func (s *Server) handleState(c echo.Context) error {
	snap, err := s.store.Snapshot(c.Param("classroomID"))
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, http.StatusOK, "", echo.Map{"state": snap})
}

func (s *Server) handleSelectSeat(c echo.Context) error {
	var req selectSeatRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request body", nil)
	}
	if err := c.Validate(&req); err != nil {
		return respond(c, http.StatusBadRequest, "seat_id is required", nil)
	}

	p, _ := identity.FromContext(c)
	seat, err := s.store.AssignSeat(c.Param("classroomID"), p, req.SeatID)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, http.StatusOK, "Seat selected.", echo.Map{"seat": seat})
}

func (s *Server) handleLeaveSeat(c echo.Context) error {
	p, _ := identity.FromContext(c)
	seat, err := s.store.ReleaseSeat(c.Param("classroomID"), p.ID)
	if err != nil {
		if errors.Is(err, classroom.ErrNotSeated) {
			return respond(c, http.StatusBadRequest, "You do not have a seat.", nil)
		}
		return s.fail(c, err)
	}
	return respond(c, http.StatusOK, "Seat released.", echo.Map{"seat": seat})
}

func (s *Server) handleRaiseHand(c echo.Context) error {
	var req raiseHandRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request body", nil)
	}
	if err := c.Validate(&req); err != nil {
		return respond(c, http.StatusBadRequest, "classroom_id is required", nil)
	}

	p, _ := identity.FromContext(c)

	// A student with no seat_id means "my seat"; a student naming a seat must
	// own it. Teachers may lower any seat's hand.
	seatID := req.SeatID
	if seatID == "" {
		seat, err := s.store.SeatOf(req.ClassroomID, p.ID)
		if err != nil {
			if errors.Is(err, classroom.ErrNotSeated) {
				return respond(c, http.StatusBadRequest, "You must be seated to raise your hand.", nil)
			}
			return s.fail(c, err)
		}
		seatID = seat.ID
	} else if p.Role == types.RoleStudent && !s.store.IsSeatOwner(req.ClassroomID, p.ID, seatID) {
		return respond(c, http.StatusForbidden, "You can only raise the hand on your own seat.", nil)
	}

	raised := true
	if req.Raised != nil {
		raised = *req.Raised
	}

	action, err := s.store.SetHandRaised(req.ClassroomID, seatID, raised)
	if err != nil {
		if errors.Is(err, classroom.ErrSeatNotOccupied) {
			return respond(c, http.StatusBadRequest, "You must be seated to raise your hand.", nil)
		}
		return s.fail(c, err)
	}

	switch action {
	case classroom.HandRaised:
		return respond(c, http.StatusOK, "Hand raised.", echo.Map{"seat_id": seatID})
	case classroom.HandLowered:
		return respond(c, http.StatusOK, "Hand lowered.", echo.Map{"seat_id": seatID})
	default:
		return respond(c, http.StatusOK, "No change.", echo.Map{"seat_id": seatID})
	}
}

func (s *Server) handleCallOn(c echo.Context) error {
	var req callOnRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request body", nil)
	}
	if err := c.Validate(&req); err != nil {
		return respond(c, http.StatusBadRequest, "seat_id is required", nil)
	}

	turn, err := s.store.StartTurn(c.Param("classroomID"), req.SeatID,
		time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, http.StatusOK, "Turn started.", echo.Map{"turn": turn})
}

func (s *Server) handleStartRound(c echo.Context) error {
	var req startRoundRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request body", nil)
	}
	if err := c.Validate(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid round parameters", nil)
	}

	round, turn, err := s.store.StartRound(c.Param("classroomID"),
		time.Duration(req.DurationSeconds)*time.Second, req.Seats)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, http.StatusOK, "Update round started.", echo.Map{"round": round, "turn": turn})
}

func (s *Server) handleEndTurn(c echo.Context) error {
	turnID := c.Param("turnID")
	classroomID, turn, ok := s.store.LookupTurn(turnID)
	if !ok {
		return respond(c, http.StatusNotFound, "No such active turn.", nil)
	}

	p, _ := identity.FromContext(c)
	if p.Role != types.RoleTeacher && turn.Student.ID != p.ID {
		return respond(c, http.StatusForbidden, "Only the current speaker or the teacher can end a turn.", nil)
	}

	transition, err := s.store.EndTurn(classroomID, turnID)
	if err != nil {
		return s.fail(c, err)
	}
	extra := echo.Map{"round_completed": transition.Completed}
	if transition.NextTurn != nil {
		extra["next_turn"] = transition.NextTurn
	}
	return respond(c, http.StatusOK, "Turn ended.", extra)
}

func (s *Server) handleRaisedHands(c echo.Context) error {
	hands, err := s.store.RaisedHands(c.Param("classroomID"))
	if err != nil {
		return s.fail(c, err)
	}
	if hands == nil {
		hands = []types.RaisedHand{}
	}
	return respond(c, http.StatusOK, "", echo.Map{"raised_hands": hands})
}

func (s *Server) handleHistory(c echo.Context) error {
	classroomID := c.Param("classroomID")
	if !s.store.Exists(classroomID) {
		return respond(c, http.StatusNotFound, "Classroom not found.", nil)
	}
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.history.Events(c.Request().Context(), classroomID, limit)
	if err != nil {
		s.logger.Error("history read failed", "classroom_id", classroomID, "error", err)
		return respond(c, http.StatusInternalServerError, "history unavailable", nil)
	}
	return respond(c, http.StatusOK, "", echo.Map{"events": events})
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.history != nil {
		if err := s.history.HealthCheck(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// fail maps store errors onto HTTP statuses and user-facing messages.
func (s *Server) fail(c echo.Context, err error) error {
	var status int
	var message string
	switch {
	case errors.Is(err, classroom.ErrClassroomNotFound):
		status, message = http.StatusNotFound, "Classroom not found."
	case errors.Is(err, classroom.ErrSeatNotFound):
		status, message = http.StatusNotFound, "Seat not found."
	case errors.Is(err, classroom.ErrNoSuchActiveTurn):
		status, message = http.StatusNotFound, "No such active turn."
	case errors.Is(err, classroom.ErrClassroomExists):
		status, message = http.StatusConflict, "Classroom already exists."
	case errors.Is(err, classroom.ErrSeatOccupied):
		status, message = http.StatusConflict, "This seat is already taken."
	case errors.Is(err, classroom.ErrAlreadySeated):
		status, message = http.StatusConflict, "You already have a seat. Leave it before selecting another."
	case errors.Is(err, classroom.ErrTurnAlreadyActive):
		status, message = http.StatusConflict, "Another student is currently speaking."
	case errors.Is(err, classroom.ErrSeatNotOccupied):
		status, message = http.StatusBadRequest, "That seat is empty."
	case errors.Is(err, classroom.ErrNotSeated):
		status, message = http.StatusBadRequest, "You do not have a seat."
	case errors.Is(err, classroom.ErrNoActiveSeats):
		status, message = http.StatusBadRequest, "No students are seated."
	default:
		s.logger.Error("unhandled store error", "error", err)
		status, message = http.StatusInternalServerError, "internal error"
	}
	return respond(c, status, message, nil)
}
