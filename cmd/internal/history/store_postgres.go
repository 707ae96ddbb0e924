package history

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomchat/cmd/chat"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "roomchat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("history: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("history: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "roomchat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("history: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) table() string { return pgIdent(s.schema, "chat_messages") }

// EnsureSchema creates the schema and table when missing. Deployments that
// manage migrations themselves leave it off.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	messages := s.table()
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  room_id      TEXT   NOT NULL,
  sent_at_ms   BIGINT NOT NULL,
  sender_id    TEXT   NOT NULL,
  display_name TEXT   NOT NULL DEFAULT '',
  text         TEXT   NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (room_id, sent_at_ms),
  CONSTRAINT chk_chat_messages_text CHECK (char_length(text) > 0)
);
`, pgx.Identifier{s.schema}.Sanitize(), messages)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return wrap("history.EnsureSchema", "", err, isPGPermissionDenied)
	}
	return nil
}

// Append upserts m under (roomID, m.SentAtMillis).
func (s *PostgresStore) Append(ctx context.Context, roomID string, m chat.Message) error {
	if err := validateAppend(roomID, m); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (room_id, sent_at_ms, sender_id, display_name, text)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (room_id, sent_at_ms) DO UPDATE
		    SET sender_id    = EXCLUDED.sender_id,
		        display_name = EXCLUDED.display_name,
		        text         = EXCLUDED.text`,
		roomID, m.SentAtMillis, m.SenderID, m.SenderDisplayName, m.Text,
	)
	return wrap("history.Append", roomID, err, isPGPermissionDenied)
}

// LoadAll returns the room ordered by sent_at_ms ASC.
func (s *PostgresStore) LoadAll(ctx context.Context, roomID string) ([]chat.Message, error) {
	if err := validateRoom("history.LoadAll", roomID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT sender_id, display_name, text, sent_at_ms
		   FROM `+s.table()+`
		  WHERE room_id = $1
		  ORDER BY sent_at_ms ASC`,
		roomID,
	)
	if err != nil {
		return nil, wrap("history.LoadAll", roomID, err, isPGPermissionDenied)
	}
	defer rows.Close()

	msgs := make([]chat.Message, 0, 64)
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.SenderID, &m.SenderDisplayName, &m.Text, &m.SentAtMillis); err != nil {
			return nil, wrap("history.LoadAll", roomID, err, isPGPermissionDenied)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("history.LoadAll", roomID, err, isPGPermissionDenied)
	}
	return msgs, nil
}

// Clear deletes every row of the room.
func (s *PostgresStore) Clear(ctx context.Context, roomID string) error {
	if err := validateRoom("history.Clear", roomID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE room_id = $1`, roomID)
	return wrap("history.Clear", roomID, err, isPGPermissionDenied)
}

// isPGPermissionDenied matches insufficient_privilege and authentication failures.
func isPGPermissionDenied(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "42501", "28000", "28P01":
		return true
	default:
		return false
	}
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
