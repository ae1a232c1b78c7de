package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"classroom/pkg/types"
)

// ActionError is a gateway rejection: the HTTP status plus the user-facing
// message from the response envelope.
type ActionError struct {
	StatusCode int
	Message    string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action rejected (%d): %s", e.StatusCode, e.Message)
}

type actionResult struct {
	Success        bool               `json:"success"`
	Message        string             `json:"message"`
	State          *types.Snapshot    `json:"state"`
	Seat           *types.Seat        `json:"seat"`
	SeatID         string             `json:"seat_id"`
	Turn           *types.Turn        `json:"turn"`
	Round          *types.Round       `json:"round"`
	NextTurn       *types.Turn        `json:"next_turn"`
	RoundCompleted bool               `json:"round_completed"`
	RaisedHands    []types.RaisedHand `json:"raised_hands"`
}

// FetchState retrieves an atomic snapshot of the classroom.
func (c *Client) FetchState(ctx context.Context) (*types.Snapshot, error) {
	res, err := c.doAction(ctx, http.MethodGet, "/classroom/state/"+c.classroomID+"/", nil)
	if err != nil {
		return nil, err
	}
	return res.State, nil
}

// SelectSeat claims a seat for this participant.
func (c *Client) SelectSeat(ctx context.Context, seatID string) (*types.Seat, error) {
	res, err := c.doAction(ctx, http.MethodPost, "/classroom/select-seat/"+c.classroomID+"/",
		map[string]string{"seat_id": seatID})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.ownSeat = seatID
	c.mu.Unlock()
	return res.Seat, nil
}

// LeaveSeat vacates the participant's seat.
func (c *Client) LeaveSeat(ctx context.Context) error {
	_, err := c.doAction(ctx, http.MethodPost, "/classroom/leave-seat/"+c.classroomID+"/", nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ownSeat = ""
	c.mu.Unlock()
	return nil
}

// RaiseHand raises the hand on the participant's seat. Without a seat the
// call never reaches the server: the user is told to pick a seat first.
func (c *Client) RaiseHand(ctx context.Context) error {
	c.mu.Lock()
	seated := c.ownSeat != ""
	c.mu.Unlock()
	if !seated {
		c.notifier.ShowNotification("Please select a seat first.", true)
		return ErrNoSeat
	}
	_, err := c.doAction(ctx, http.MethodPost, "/classroom/raise-hand/",
		map[string]any{"classroom_id": c.classroomID})
	return err
}

// LowerHand lowers the hand on the participant's seat.
func (c *Client) LowerHand(ctx context.Context) error {
	c.mu.Lock()
	seated := c.ownSeat != ""
	c.mu.Unlock()
	if !seated {
		return ErrNoSeat
	}
	raised := false
	_, err := c.doAction(ctx, http.MethodPost, "/classroom/raise-hand/",
		map[string]any{"classroom_id": c.classroomID, "raised": &raised})
	return err
}

// RaisedHands lists the queued raised hands in call order.
func (c *Client) RaisedHands(ctx context.Context) ([]types.RaisedHand, error) {
	res, err := c.doAction(ctx, http.MethodGet, "/classroom/raised-hands/"+c.classroomID+"/", nil)
	if err != nil {
		return nil, err
	}
	return res.RaisedHands, nil
}

// CallOn starts a speaking turn for the occupant of seatID (teacher action).
// durationSeconds 0 uses the server default.
func (c *Client) CallOn(ctx context.Context, seatID string, durationSeconds int) (*types.Turn, error) {
	res, err := c.doAction(ctx, http.MethodPost, "/classroom/call-on/"+c.classroomID+"/",
		map[string]any{"seat_id": seatID, "duration_seconds": durationSeconds})
	if err != nil {
		return nil, err
	}
	return res.Turn, nil
}

// StartUpdateRound begins an update round (teacher action). An empty seats
// slice rotates through every occupied seat.
func (c *Client) StartUpdateRound(ctx context.Context, durationSeconds int, seats []string) (*types.Round, *types.Turn, error) {
	res, err := c.doAction(ctx, http.MethodPost, "/classroom/start-update-round/"+c.classroomID+"/",
		map[string]any{"duration_seconds": durationSeconds, "seats": seats})
	if err != nil {
		return nil, nil, err
	}
	return res.Round, res.Turn, nil
}

// EndTurn ends the identified turn. Inside a round the returned next turn is
// non-nil until the round completes.
func (c *Client) EndTurn(ctx context.Context, turnID string) (next *types.Turn, completed bool, err error) {
	res, err := c.doAction(ctx, http.MethodPost, "/classroom/end-turn/"+turnID+"/", nil)
	if err != nil {
		return nil, false, err
	}
	return res.NextTurn, res.RoundCompleted, nil
}

func (c *Client) doAction(ctx context.Context, method, path string, body any) (*actionResult, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var res actionResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if !res.Success {
		return nil, &ActionError{StatusCode: resp.StatusCode, Message: res.Message}
	}
	return &res, nil
}
