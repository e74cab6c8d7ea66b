package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigmoyd/voicegate/pkg/core/call"
)

// CallRecords is the durable call-record store backed by Postgres.
// Transcripts and collected data are stored as JSONB.
type CallRecords struct {
	pool *pgxpool.Pool
}

// NewCallRecords builds a CallRecords over a pool.
func NewCallRecords(pool *pgxpool.Pool) *CallRecords {
	return &CallRecords{pool: pool}
}

// ErrRecordNotFound is returned when no record exists for a call SID.
var ErrRecordNotFound = errors.New("call record not found")

// Create writes the initial record for a call. A duplicate start event for
// a known call SID is a no-op.
func (c *CallRecords) Create(ctx context.Context, rec *call.Record) error {
	transcript, collected, err := encodeJSON(rec.Transcript, rec.DataCollected)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO calls (call_sid, agent_id, caller_phone, recipient_phone, status, started_at, transcript, data_collected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_sid) DO NOTHING`,
		rec.CallSID, rec.AgentID, rec.CallerPhone, rec.RecipientPhone,
		string(rec.Status), rec.StartedAt, transcript, collected)
	if err != nil {
		return fmt.Errorf("create call record %s: %w", rec.CallSID, err)
	}
	return nil
}

// UpsertPartial updates an in-progress call's transcript and collected data.
// Records already in a terminal status are left alone: the final upsert is
// the last writer, and a stale partial sync landing after it must not roll
// the record back.
func (c *CallRecords) UpsertPartial(ctx context.Context, callSID string, transcript []call.Turn, collected map[string]any) error {
	tjson, cjson, err := encodeJSON(transcript, collected)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx, `
		UPDATE calls
		SET transcript = $2, data_collected = $3, status = $4
		WHERE call_sid = $1
		  AND status NOT IN ($5, $6, $7, $8, $9)`,
		callSID, tjson, cjson, string(call.StatusInProgress),
		string(call.StatusCompleted), string(call.StatusFailed), string(call.StatusBusy),
		string(call.StatusNoAnswer), string(call.StatusCanceled))
	if err != nil {
		return fmt.Errorf("partial upsert %s: %w", callSID, err)
	}
	// Zero matched rows means the record is missing (the final upsert
	// re-inserts it) or already terminal. Not an error in either case.
	return nil
}

// UpsertFinal writes the complete record. Insert-or-update so a finalize
// always lands even if the initial write was lost, and last-writer-wins
// over any stale partial upsert.
func (c *CallRecords) UpsertFinal(ctx context.Context, rec *call.Record) error {
	transcript, collected, err := encodeJSON(rec.Transcript, rec.DataCollected)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO calls (call_sid, agent_id, caller_phone, recipient_phone, status, started_at,
			ended_at, duration_seconds, ended_by, transcript, data_collected,
			recording_url, recording_sid, s3_recording_url, answered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (call_sid) DO UPDATE SET
			status = EXCLUDED.status,
			ended_at = EXCLUDED.ended_at,
			duration_seconds = EXCLUDED.duration_seconds,
			ended_by = EXCLUDED.ended_by,
			transcript = EXCLUDED.transcript,
			data_collected = EXCLUDED.data_collected,
			recording_url = EXCLUDED.recording_url,
			recording_sid = EXCLUDED.recording_sid,
			s3_recording_url = EXCLUDED.s3_recording_url,
			answered_by = EXCLUDED.answered_by`,
		rec.CallSID, rec.AgentID, rec.CallerPhone, rec.RecipientPhone,
		string(rec.Status), rec.StartedAt,
		nullTime(rec.EndedAt), nullInt(rec.DurationSeconds), nullString(string(rec.EndedBy)),
		transcript, collected,
		nullString(rec.RecordingURL), nullString(rec.RecordingSID),
		nullString(rec.S3RecordingURL), nullString(rec.AnsweredBy))
	if err != nil {
		return fmt.Errorf("final upsert %s: %w", rec.CallSID, err)
	}
	return nil
}

// RecentByRecipient returns up to limit completed calls for an
// agent-recipient pair, most recent first.
func (c *CallRecords) RecentByRecipient(ctx context.Context, agentID, recipientPhone string, limit int) ([]call.Record, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := c.pool.Query(ctx, selectCall+`
		WHERE agent_id = $1 AND recipient_phone = $2 AND status = $3
		ORDER BY started_at DESC
		LIMIT $4`,
		agentID, recipientPhone, string(call.StatusCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("recent calls for %s/%s: %w", agentID, recipientPhone, err)
	}
	defer rows.Close()

	var out []call.Record
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Get returns the record for a call SID, or ErrRecordNotFound.
func (c *CallRecords) Get(ctx context.Context, callSID string) (*call.Record, error) {
	rows, err := c.pool.Query(ctx, selectCall+` WHERE call_sid = $1`, callSID)
	if err != nil {
		return nil, fmt.Errorf("get call record %s: %w", callSID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrRecordNotFound
	}
	return scanCall(rows)
}

const selectCall = `
	SELECT call_sid, agent_id, caller_phone, recipient_phone, status, started_at,
		ended_at, duration_seconds, ended_by, transcript, data_collected,
		recording_url, recording_sid, s3_recording_url, answered_by
	FROM calls`

func scanCall(row pgx.Row) (*call.Record, error) {
	var rec call.Record
	var status string
	var endedAt sql.NullTime
	var duration sql.NullInt64
	var endedBy, recURL, recSID, s3URL, answeredBy sql.NullString
	var transcript, collected []byte

	err := row.Scan(&rec.CallSID, &rec.AgentID, &rec.CallerPhone, &rec.RecipientPhone,
		&status, &rec.StartedAt, &endedAt, &duration, &endedBy,
		&transcript, &collected, &recURL, &recSID, &s3URL, &answeredBy)
	if err != nil {
		return nil, fmt.Errorf("scan call record: %w", err)
	}

	rec.Status = call.Status(status)
	if endedAt.Valid {
		rec.EndedAt = endedAt.Time
	}
	rec.DurationSeconds = int(duration.Int64)
	rec.EndedBy = call.EndReason(endedBy.String)
	rec.RecordingURL = recURL.String
	rec.RecordingSID = recSID.String
	rec.S3RecordingURL = s3URL.String
	rec.AnsweredBy = answeredBy.String

	if err := json.Unmarshal(transcript, &rec.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if err := json.Unmarshal(collected, &rec.DataCollected); err != nil {
		return nil, fmt.Errorf("decode collected data: %w", err)
	}
	return &rec, nil
}

func encodeJSON(transcript []call.Turn, collected map[string]any) ([]byte, []byte, error) {
	if transcript == nil {
		transcript = []call.Turn{}
	}
	if collected == nil {
		collected = map[string]any{}
	}
	tjson, err := json.Marshal(transcript)
	if err != nil {
		return nil, nil, fmt.Errorf("encode transcript: %w", err)
	}
	cjson, err := json.Marshal(collected)
	if err != nil {
		return nil, nil, fmt.Errorf("encode collected data: %w", err)
	}
	return tjson, cjson, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
