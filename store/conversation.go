package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	realtime "github.com/bt-bridge/realtime-assistant"
	"github.com/bytedance/sonic"
)

// ConversationLog appends finalized turns under
// conversation:<session>:<timestamp>-<seq> so List returns them in order.
type ConversationLog struct {
	s   Store
	seq atomic.Uint64
	now func() time.Time
	// Gate drops turns while memory is off.
	Gate *MemoryGate
	// Memories, when set, keeps user turns that ask to be remembered.
	Memories *Knowledge
}

var _ realtime.ConversationLog = (*ConversationLog)(nil)

func NewConversationLog(s Store) *ConversationLog {
	return &ConversationLog{s: s, now: time.Now}
}

type turnRecord struct {
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	At        time.Time      `json:"at"`
}

func (l *ConversationLog) PersistTurn(ctx context.Context, turn realtime.ConversationTurn) error {
	if !l.Gate.Enabled() {
		return nil
	}
	at := turn.At
	if at.IsZero() {
		at = l.now()
	}
	data, err := sonic.Marshal(turnRecord{
		SessionID: turn.SessionID,
		Role:      string(turn.Role),
		Content:   turn.Content,
		Metadata:  turn.Metadata,
		At:        at,
	})
	if err != nil {
		return fmt.Errorf("on marshaling turn: %w", err)
	}
	key := Key{"conversation", turn.SessionID, fmt.Sprintf("%020d-%06d", at.UnixNano(), l.seq.Add(1))}
	if err := l.s.Set(ctx, key, data); err != nil {
		return err
	}
	if l.Memories == nil || turn.Role != realtime.RoleUser {
		return nil
	}
	m, ok := ExtractMemory(turn.Content)
	if !ok {
		return nil
	}
	m.CreatedAt = at
	if _, err := l.Memories.SaveMemory(ctx, m); err != nil {
		return fmt.Errorf("on saving extracted memory: %w", err)
	}
	return nil
}

// History returns every turn persisted for sessionID, oldest first.
func (l *ConversationLog) History(ctx context.Context, sessionID string) ([]realtime.ConversationTurn, error) {
	var out []realtime.ConversationTurn
	for e, err := range l.s.List(ctx, Key{"conversation", sessionID}) {
		if err != nil {
			return nil, err
		}
		var rec turnRecord
		if err := sonic.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("on decoding %s: %w", e.Key, err)
		}
		out = append(out, realtime.ConversationTurn{
			SessionID: rec.SessionID,
			Role:      realtime.Role(rec.Role),
			Content:   rec.Content,
			Metadata:  rec.Metadata,
			At:        rec.At,
		})
	}
	return out, nil
}
