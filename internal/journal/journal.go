// Package journal keeps an audit trail of committed classroom events in
// SQLite. It is write-mostly: reconnecting clients resynchronize from a
// state snapshot, never from the journal.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"classroom/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS classroom_events (
	id           TEXT PRIMARY KEY,
	classroom_id TEXT NOT NULL,
	type         TEXT NOT NULL,
	payload      TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_classroom_time
	ON classroom_events(classroom_id, created_at);
`

// Event is one journaled classroom event.
type Event struct {
	ID          string    `db:"id" json:"id"`
	ClassroomID string    `db:"classroom_id" json:"classroom_id"`
	Type        string    `db:"type" json:"type"`
	Payload     string    `db:"payload" json:"payload"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Recorder journals events through a single writer goroutine; SQLite
// tolerates concurrent readers but only one writer.
type Recorder struct {
	db      *sqlx.DB
	writeCh chan Event
	done    chan struct{}
	stopped chan struct{}
	logger  *slog.Logger
}

// Open opens (creating if needed) the journal database at path.
func Open(path string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	db.SetMaxOpenConns(10)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	r := &Recorder{
		db:      db,
		writeCh: make(chan Event, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	go r.writeLoop()
	return r, nil
}

func (r *Recorder) writeLoop() {
	defer close(r.stopped)
	for {
		select {
		case ev := <-r.writeCh:
			r.insert(ev)
		case <-r.done:
			// Drain whatever is already queued before shutting down.
			for {
				select {
				case ev := <-r.writeCh:
					r.insert(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) insert(ev Event) {
	_, err := r.db.NamedExec(
		`INSERT INTO classroom_events (id, classroom_id, type, payload, created_at)
		 VALUES (:id, :classroom_id, :type, :payload, :created_at)`, ev)
	if err != nil {
		// Retry once; the journal is best-effort audit data.
		time.Sleep(100 * time.Millisecond)
		if _, err = r.db.NamedExec(
			`INSERT INTO classroom_events (id, classroom_id, type, payload, created_at)
			 VALUES (:id, :classroom_id, :type, :payload, :created_at)`, ev); err != nil {
			r.logger.Error("journal write failed", "classroom_id", ev.ClassroomID, "type", ev.Type, "error", err)
		}
	}
}

// Record queues an event for journaling. It never blocks: when the queue is
// full the event is dropped with a log line rather than stalling a commit.
func (r *Recorder) Record(classroomID string, payload types.Payload) {
	data, err := types.EncodeMessage(payload)
	if err != nil {
		r.logger.Error("journal encode failed", "classroom_id", classroomID, "error", err)
		return
	}
	ev := Event{
		ID:          uuid.New().String(),
		ClassroomID: classroomID,
		Type:        payload.MessageType(),
		Payload:     string(data),
		CreatedAt:   time.Now().UTC(),
	}
	select {
	case r.writeCh <- ev:
	default:
		r.logger.Warn("journal queue full, event dropped", "classroom_id", classroomID, "type", ev.Type)
	}
}

// Events returns up to limit journaled events for a classroom, oldest first.
func (r *Recorder) Events(ctx context.Context, classroomID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []Event
	err := r.db.SelectContext(ctx, &events,
		`SELECT id, classroom_id, type, payload, created_at
		 FROM classroom_events
		 WHERE classroom_id = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`, classroomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", classroomID, err)
	}
	return events, nil
}

// HealthCheck verifies the database is reachable.
func (r *Recorder) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close stops the writer after draining queued events and closes the
// database.
func (r *Recorder) Close() error {
	close(r.done)
	select {
	case <-r.stopped:
	case <-time.After(5 * time.Second):
		r.logger.Warn("journal writer did not drain in time")
	}
	return r.db.Close()
}
