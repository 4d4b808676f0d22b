package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/andresmejia3/memquiz/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when a question id does not exist.
var ErrNotFound = errors.New("not found")

// SQLSTATE foreign_key_violation
const foreignKeyViolation = "23503"

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
// The embedding column is left unsized so galleries from any face engine fit.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			processed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS qna_records (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL UNIQUE REFERENCES videos(id) ON DELETE CASCADE,
			question_type TEXT NOT NULL CHECK (question_type IN ('mcq', 'short_answer')),
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			options TEXT[] NOT NULL DEFAULT '{}',
			proof_location TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS known_identities (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			embedding VECTOR NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS quiz_attempts (
			id BIGSERIAL PRIMARY KEY,
			question_id TEXT NOT NULL REFERENCES qna_records(id) ON DELETE CASCADE,
			day DATE NOT NULL,
			attempt_count INT NOT NULL DEFAULT 0,
			time_taken INT NOT NULL DEFAULT 0,
			first_guess_score INT NOT NULL DEFAULT 0,
			overall_score INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS quiz_attempts_day_idx ON quiz_attempts (day);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SaveQnA stores the question generated for a video. A video has at most one question:
// regenerating replaces the previous record and the attempts made against it.
func (s *Store) SaveQnA(ctx context.Context, rec types.QnARecord) error {
	if rec.ID == "" || rec.VideoID == "" {
		return fmt.Errorf("record needs both an id and a video id")
	}
	options := rec.Options
	if options == nil {
		options = []string{}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO videos (id, path, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET processed_at = NOW(), path = EXCLUDED.path
	`, rec.VideoID, rec.ProofLocation)
	if err != nil {
		return err
	}

	// Clean up the old question to keep re-runs idempotent
	if _, err := tx.Exec(ctx, "DELETE FROM qna_records WHERE video_id = $1", rec.VideoID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO qna_records (id, video_id, question_type, question, answer, options, proof_location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.VideoID, string(rec.Type), rec.Question, rec.Answer, options, rec.ProofLocation, createdAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const qnaColumns = `id, video_id, question_type, question, answer, options, proof_location, created_at`

func scanQnA(row pgx.Row) (types.QnARecord, error) {
	var rec types.QnARecord
	var qt string
	err := row.Scan(&rec.ID, &rec.VideoID, &qt, &rec.Question, &rec.Answer, &rec.Options, &rec.ProofLocation, &rec.CreatedAt)
	rec.Type = types.QuestionType(qt)
	if len(rec.Options) == 0 {
		rec.Options = nil
	}
	return rec, err
}

// ListQnA returns every stored question, oldest first.
func (s *Store) ListQnA(ctx context.Context) ([]types.QnARecord, error) {
	rows, err := s.conn.Query(ctx, "SELECT "+qnaColumns+" FROM qna_records ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.QnARecord
	for rows.Next() {
		rec, err := scanQnA(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetQnA fetches one question by id.
func (s *Store) GetQnA(ctx context.Context, id string) (types.QnARecord, error) {
	rec, err := scanQnA(s.conn.QueryRow(ctx, "SELECT "+qnaColumns+" FROM qna_records WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.QnARecord{}, fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	return rec, err
}

func toVector(e types.Embedding) pgvector.Vector {
	v := make([]float32, len(e))
	for i, x := range e {
		v[i] = float32(x)
	}
	return pgvector.NewVector(v)
}

func fromVector(v pgvector.Vector) types.Embedding {
	s := v.Slice()
	e := make(types.Embedding, len(s))
	for i, x := range s {
		e[i] = float64(x)
	}
	return e
}

// SyncGallery makes known_identities mirror the given identities: new names are inserted,
// existing ones get the new embedding and names no longer present are removed.
func (s *Store) SyncGallery(ctx context.Context, identities []types.Identity) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	names := make([]string, 0, len(identities))
	for _, id := range identities {
		names = append(names, id.Name)
		_, err := tx.Exec(ctx, `
			INSERT INTO known_identities (name, embedding, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (name) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = NOW()
		`, id.Name, toVector(id.Embedding))
		if err != nil {
			return fmt.Errorf("failed to store identity %q: %w", id.Name, err)
		}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM known_identities WHERE NOT (name = ANY($1))", names); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListIdentities returns the stored gallery in insertion order.
func (s *Store) ListIdentities(ctx context.Context) ([]types.Identity, error) {
	rows, err := s.conn.Query(ctx, "SELECT name, embedding FROM known_identities ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Identity
	for rows.Next() {
		var name string
		var vec pgvector.Vector
		if err := rows.Scan(&name, &vec); err != nil {
			return nil, err
		}
		out = append(out, types.Identity{Name: name, Embedding: fromVector(vec)})
	}
	return out, rows.Err()
}

// FindClosestIdentity searches for the nearest stored identity by Euclidean distance.
// The result follows gallery matching rules: the identity is set only within tolerance,
// and an empty table (or one holding only other dimensions) yields an infinite distance.
func (s *Store) FindClosestIdentity(ctx context.Context, e types.Embedding, tolerance float64) (types.FaceMatch, error) {
	// <-> is the L2 distance operator in pgvector
	query := `
		SELECT name, embedding, embedding <-> $1 AS dist
		FROM known_identities
		WHERE vector_dims(embedding) = $2
		ORDER BY dist ASC, id ASC
		LIMIT 1`

	var name string
	var vec pgvector.Vector
	var dist float64
	err := s.conn.QueryRow(ctx, query, toVector(e), len(e)).Scan(&name, &vec, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.FaceMatch{Distance: math.Inf(1)}, nil
	}
	if err != nil {
		return types.FaceMatch{}, err
	}

	m := types.FaceMatch{Distance: dist}
	if dist <= tolerance {
		m.Identity = &types.Identity{Name: name, Embedding: fromVector(vec)}
	}
	return m, nil
}

// RecordAttempt stores one quiz attempt. The question must exist.
func (s *Store) RecordAttempt(ctx context.Context, a types.Attempt) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO quiz_attempts (question_id, day, attempt_count, time_taken, first_guess_score, overall_score)
		VALUES ($1, $2::date, $3, $4, $5, $6)
	`, a.QuestionID, a.Day, a.AttemptCount, a.TimeTaken, a.FirstGuessScore, a.OverallScore)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("question %s: %w", a.QuestionID, ErrNotFound)
	}
	return err
}

// Accuracy aggregates attempts per day, most recent day first.
func (s *Store) Accuracy(ctx context.Context) ([]types.DayAccuracy, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), COUNT(*), AVG(first_guess_score)::float8, AVG(overall_score)::float8
		FROM quiz_attempts
		GROUP BY day
		ORDER BY day DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.DayAccuracy
	for rows.Next() {
		var d types.DayAccuracy
		if err := rows.Scan(&d.Day, &d.Attempts, &d.FirstGuessScore, &d.OverallScore); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS quiz_attempts CASCADE;
		DROP TABLE IF EXISTS qna_records CASCADE;
		DROP TABLE IF EXISTS known_identities CASCADE;
		DROP TABLE IF EXISTS videos CASCADE;
	`)
	return err
}
