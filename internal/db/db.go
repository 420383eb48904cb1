// Package db provides PostgreSQL persistence for the command audit trail:
// one row per handled chat command, used for event replay and review.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DB wraps the underlying *sql.DB and provides typed query methods.
type DB struct {
	conn *sql.DB
}

// New opens a PostgreSQL connection, verifies connectivity and applies migrations.
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := ApplyMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

// Outcome values recorded per command.
const (
	OutcomeOK      = "ok"
	OutcomeFail    = "fail"
	OutcomeNoMatch = "no_match"
	OutcomeHelp    = "help"
)

// CommandRecord is one handled chat command.
type CommandRecord struct {
	CommandID  string    `json:"command_id"`
	EventKey   *string   `json:"event_key,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Text       string    `json:"text"`
	TextHash   string    `json:"text_hash"`
	Outcome    string    `json:"outcome"`
	ToolName   string    `json:"tool_name,omitempty"`
	Arguments  []byte    `json:"arguments,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Reply      string    `json:"reply"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ErrDuplicateEvent is returned when a command with the same event key exists.
var ErrDuplicateEvent = errors.New("command for event already recorded")

// InsertCommand stores a command record.
func (d *DB) InsertCommand(ctx context.Context, c *CommandRecord) error {
	var args any
	if len(c.Arguments) > 0 {
		args = string(c.Arguments)
	}
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO commands (command_id, event_key, user_id, channel, text, text_hash, outcome, tool_name, arguments, error_code, reply, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.CommandID, c.EventKey, c.UserID, c.Channel, c.Text, c.TextHash, c.Outcome, c.ToolName, args, c.ErrorCode, c.Reply, c.DurationMS, c.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

const commandColumns = `command_id, event_key, user_id, channel, text, text_hash, outcome, tool_name, arguments, error_code, reply, duration_ms, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*CommandRecord, error) {
	c := &CommandRecord{}
	var eventKey sql.NullString
	var args sql.NullString
	if err := row.Scan(&c.CommandID, &eventKey, &c.UserID, &c.Channel, &c.Text, &c.TextHash, &c.Outcome, &c.ToolName, &args, &c.ErrorCode, &c.Reply, &c.DurationMS, &c.CreatedAt); err != nil {
		return nil, err
	}
	if eventKey.Valid {
		k := eventKey.String
		c.EventKey = &k
	}
	if args.Valid {
		c.Arguments = []byte(args.String)
	}
	return c, nil
}

// GetCommandByEventKey returns the command recorded for an event, or nil.
func (d *DB) GetCommandByEventKey(ctx context.Context, eventKey string) (*CommandRecord, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE event_key = $1`, eventKey)
	c, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get command by event key: %w", err)
	}
	return c, nil
}

// GetCommand returns a command by id, or nil.
func (d *DB) GetCommand(ctx context.Context, commandID string) (*CommandRecord, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE command_id = $1`, commandID)
	c, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get command: %w", err)
	}
	return c, nil
}

// ListCommands returns recent commands, most recent first.
func (d *DB) ListCommands(ctx context.Context, limit int) ([]*CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+commandColumns+` FROM commands ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []*CommandRecord
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
