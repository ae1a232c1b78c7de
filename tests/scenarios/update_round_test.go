package scenarios

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/pkg/client"
	"classroom/pkg/types"
	"classroom/tests/fixtures"
)

// A full update round: every occupied seat speaks exactly once and every
// participant observes the same lifecycle message sequence.
func TestUpdateRoundRotatesThroughAllSeats(t *testing.T) {
	env := fixtures.NewEnv(t, 6)
	teach := env.ConnectTeacher(t)
	ctx := context.Background()

	sink, cb := fixtures.NewMessageSink()
	env.Connect(t, "observer", types.RoleStudent, client.WithCallbacks(cb))

	for i := 0; i < 3; i++ {
		s := env.Connect(t, fmt.Sprintf("student-%d", i), types.RoleStudent)
		_, err := s.SelectSeat(ctx, fmt.Sprintf("seat-%d", i))
		require.NoError(t, err)
	}

	round, turn, err := teach.StartUpdateRound(ctx, 300, nil)
	require.NoError(t, err)

	started := fixtures.Recv(t, sink.UpdateRounds, 2*time.Second)
	assert.Equal(t, types.RoundActionStarted, started.Action)
	assert.Equal(t, round.ID, started.RoundID)
	assert.Equal(t, 300, started.RemainingTime)

	spoken := make(map[string]int)
	for {
		msg := fixtures.Recv(t, sink.UpdateRounds, 2*time.Second)
		switch msg.Action {
		case types.RoundActionTurnStarted:
			require.NotNil(t, msg.CurrentStudent)
			if len(spoken) == 0 {
				assert.Equal(t, turn.ID, msg.TurnID)
			}
			spoken[msg.SeatID]++
			next, completed, err := teach.EndTurn(ctx, msg.TurnID)
			require.NoError(t, err)
			if completed {
				require.Nil(t, next)
			}
		case types.RoundActionTurnEnded:
			// interleaved with turn_started; nothing to do
		case types.RoundActionCompleted:
			assert.Equal(t, round.ID, msg.RoundID)
			require.Len(t, spoken, 3)
			for seatID, count := range spoken {
				assert.Equal(t, 1, count, "seat %s spoke %d times", seatID, count)
			}
			return
		default:
			t.Fatalf("unexpected round action %q", msg.Action)
		}
	}
}

// A second round cannot start while one is active.
func TestConcurrentRoundRejected(t *testing.T) {
	env := fixtures.NewEnv(t, 4)
	teach := env.ConnectTeacher(t)
	ctx := context.Background()

	alice := env.Connect(t, "alice", types.RoleStudent)
	_, err := alice.SelectSeat(ctx, "seat-0")
	require.NoError(t, err)

	_, _, err = teach.StartUpdateRound(ctx, 300, nil)
	require.NoError(t, err)

	_, _, err = teach.StartUpdateRound(ctx, 300, nil)
	var actionErr *client.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Contains(t, actionErr.Message, "currently speaking")
}

// The server ends an overdue turn on its own; clients only render the
// countdown.
func TestTurnExpiresServerSide(t *testing.T) {
	env := fixtures.NewEnv(t, 4)
	teach := env.ConnectTeacher(t)
	ctx := context.Background()

	sink, cb := fixtures.NewMessageSink()
	env.Connect(t, "observer", types.RoleStudent, client.WithCallbacks(cb))

	alice := env.Connect(t, "alice", types.RoleStudent)
	_, err := alice.SelectSeat(ctx, "seat-0")
	require.NoError(t, err)

	turn, err := teach.CallOn(ctx, "seat-0", 1)
	require.NoError(t, err)

	startMsg := fixtures.Recv(t, sink.UpdateRounds, 2*time.Second)
	assert.Equal(t, types.RoundActionTurnStarted, startMsg.Action)
	assert.Equal(t, turn.ID, startMsg.TurnID)

	endMsg := fixtures.Recv(t, sink.UpdateRounds, 3*time.Second)
	assert.Equal(t, types.RoundActionTurnEnded, endMsg.Action)
	assert.Equal(t, turn.ID, endMsg.TurnID)

	// The expired turn can no longer be ended explicitly.
	_, _, err = teach.EndTurn(ctx, turn.ID)
	var actionErr *client.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, 404, actionErr.StatusCode)
}

// Only the speaker or the teacher may end a turn.
func TestEndTurnAuthorization(t *testing.T) {
	env := fixtures.NewEnv(t, 4)
	teach := env.ConnectTeacher(t)
	ctx := context.Background()

	alice := env.Connect(t, "alice", types.RoleStudent)
	bob := env.Connect(t, "bob", types.RoleStudent)
	_, err := alice.SelectSeat(ctx, "seat-0")
	require.NoError(t, err)

	turn, err := teach.CallOn(ctx, "seat-0", 0)
	require.NoError(t, err)

	_, _, err = bob.EndTurn(ctx, turn.ID)
	var actionErr *client.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, 403, actionErr.StatusCode)

	_, _, err = alice.EndTurn(ctx, turn.ID)
	assert.NoError(t, err)
}
