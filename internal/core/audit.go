package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/db"
	"github.com/google/uuid"
)

// AuditStore persists command records. *db.DB satisfies it; MemoryAuditStore
// is used when no database is configured.
type AuditStore interface {
	InsertCommand(ctx context.Context, c *db.CommandRecord) error
	GetCommand(ctx context.Context, commandID string) (*db.CommandRecord, error)
	GetCommandByEventKey(ctx context.Context, eventKey string) (*db.CommandRecord, error)
	ListCommands(ctx context.Context, limit int) ([]*db.CommandRecord, error)
}

// AuditService records every handled command and replays the stored reply
// when a chat event is redelivered.
type AuditService struct {
	store AuditStore
	now   func() time.Time
}

// NewAuditService wires the audit layer to its store.
func NewAuditService(store AuditStore) *AuditService {
	if store == nil {
		store = NewMemoryAuditStore()
	}
	return &AuditService{store: store, now: time.Now}
}

// RecordInput captures what is needed to log a command.
type RecordInput struct {
	EventKey  string
	UserID    string
	Channel   string
	Text      string
	Outcome   string
	Call      *ToolCall
	ErrorCode string
	Reply     string
	Duration  time.Duration
}

// Record persists one command and returns the stored record.
func (a *AuditService) Record(ctx context.Context, in RecordInput) (*db.CommandRecord, error) {
	rec := &db.CommandRecord{
		CommandID:  uuid.New().String(),
		UserID:     in.UserID,
		Channel:    in.Channel,
		Text:       in.Text,
		TextHash:   HashText(in.Text),
		Outcome:    in.Outcome,
		ErrorCode:  in.ErrorCode,
		Reply:      in.Reply,
		DurationMS: in.Duration.Milliseconds(),
		CreatedAt:  a.now().UTC(),
	}
	if in.EventKey != "" {
		k := in.EventKey
		rec.EventKey = &k
	}
	if in.Call != nil {
		rec.ToolName = in.Call.Tool
		args, err := json.Marshal(in.Call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		rec.Arguments = args
	}
	if err := a.store.InsertCommand(ctx, rec); err != nil {
		if errors.Is(err, db.ErrDuplicateEvent) {
			return nil, &IdempotencyConflictError{Detail: "event already recorded"}
		}
		return nil, fmt.Errorf("insert command: %w", err)
	}
	return rec, nil
}

// Replay returns the record stored for eventKey. ok is false when the event
// has not been seen. A stored record whose text differs from text yields an
// IdempotencyConflictError.
func (a *AuditService) Replay(ctx context.Context, eventKey, text string) (*db.CommandRecord, bool, error) {
	if eventKey == "" {
		return nil, false, nil
	}
	rec, err := a.store.GetCommandByEventKey(ctx, eventKey)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	if rec.TextHash != HashText(text) {
		return nil, false, &IdempotencyConflictError{}
	}
	return rec, true, nil
}

// Get returns one recorded command, or nil when the id is unknown.
func (a *AuditService) Get(ctx context.Context, commandID string) (*db.CommandRecord, error) {
	return a.store.GetCommand(ctx, commandID)
}

// Recent lists the most recent commands.
func (a *AuditService) Recent(ctx context.Context, limit int) ([]*db.CommandRecord, error) {
	return a.store.ListCommands(ctx, limit)
}

// MemoryAuditStore keeps command records in process memory.
type MemoryAuditStore struct {
	mu      sync.Mutex
	records []*db.CommandRecord
	byEvent map[string]*db.CommandRecord
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{byEvent: make(map[string]*db.CommandRecord)}
}

func (m *MemoryAuditStore) InsertCommand(_ context.Context, c *db.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.EventKey != nil {
		if _, ok := m.byEvent[*c.EventKey]; ok {
			return db.ErrDuplicateEvent
		}
	}
	cp := *c
	m.records = append(m.records, &cp)
	if cp.EventKey != nil {
		m.byEvent[*cp.EventKey] = &cp
	}
	return nil
}

func (m *MemoryAuditStore) GetCommand(_ context.Context, commandID string) (*db.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.CommandID == commandID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryAuditStore) GetCommandByEventKey(_ context.Context, eventKey string) (*db.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byEvent[eventKey]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryAuditStore) ListCommands(_ context.Context, limit int) ([]*db.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := make([]*db.CommandRecord, 0, len(m.records))
	for _, r := range m.records {
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
