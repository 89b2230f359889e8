package store

import (
	"database/sql"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const sessionColumns = `id, participant_id, session_number, position, run, record, data_dir, state, created_at, updated_at`

func scanSession(row rowScanner) (models.SessionRecord, error) {
	var r models.SessionRecord
	var state string
	err := row.Scan(&r.ID, &r.ParticipantID, &r.Session, &r.Position, &r.Run, &r.Record, &r.DataDir, &state, &r.CreatedAt, &r.UpdatedAt)
	r.State = models.RunState(state)
	return r, err
}

func scanSessions(rows *sql.Rows) ([]models.SessionRecord, error) {
	defer rows.Close()
	var out []models.SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanStateChanges(rows *sql.Rows) ([]models.StateChange, error) {
	defer rows.Close()
	var out []models.StateChange
	for rows.Next() {
		var c models.StateChange
		var from, to string
		if err := rows.Scan(&c.SessionID, &from, &to, &c.At); err != nil {
			return nil, err
		}
		c.From, c.To = models.RunState(from), models.RunState(to)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanTriggers(rows *sql.Rows) ([]models.TriggerRecord, error) {
	defer rows.Close()
	var out []models.TriggerRecord
	for rows.Next() {
		var t models.TriggerRecord
		if err := rows.Scan(&t.SessionID, &t.Seq, &t.Label, &t.At); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func stateArgs(states []models.RunState) []any {
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = string(s)
	}
	return args
}
