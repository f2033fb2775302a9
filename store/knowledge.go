package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type KnowledgeItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Memory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Knowledge holds the assistant's long-term memory: saved research items
// and short facts the user asked it to remember.
type Knowledge struct {
	s Store
	// MaxContextItems bounds how many memories and how many knowledge
	// items MemoryContext emits.
	MaxContextItems int
	// Gate turns saving and MemoryContext off. Listing still works.
	Gate *MemoryGate
	now  func() time.Time
}

func NewKnowledge(s Store) *Knowledge {
	return &Knowledge{s: s, MaxContextItems: 10, now: time.Now}
}

func (k *Knowledge) SaveItem(ctx context.Context, item KnowledgeItem) (KnowledgeItem, error) {
	if !k.Gate.Enabled() {
		return item, ErrMemoryDisabled
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	data, err := sonic.Marshal(item)
	if err != nil {
		return item, fmt.Errorf("on marshaling knowledge item: %w", err)
	}
	return item, k.s.Set(ctx, Key{"knowledge", item.ID}, data)
}

func (k *Knowledge) SaveMemory(ctx context.Context, m Memory) (Memory, error) {
	if !k.Gate.Enabled() {
		return m, ErrMemoryDisabled
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	data, err := sonic.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("on marshaling memory: %w", err)
	}
	return m, k.s.Set(ctx, Key{"memory", m.ID}, data)
}

// Items returns every saved knowledge item, oldest first.
func (k *Knowledge) Items(ctx context.Context) ([]KnowledgeItem, error) {
	items, err := listDecoded[KnowledgeItem](ctx, k.s, Key{"knowledge"})
	slices.SortStableFunc(items, func(a, b KnowledgeItem) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return items, err
}

// Memories returns every saved memory, oldest first.
func (k *Knowledge) Memories(ctx context.Context) ([]Memory, error) {
	mems, err := listDecoded[Memory](ctx, k.s, Key{"memory"})
	slices.SortStableFunc(mems, func(a, b Memory) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return mems, err
}

// Search returns knowledge items whose title or content contains query,
// case-insensitively.
func (k *Knowledge) Search(ctx context.Context, query string) ([]KnowledgeItem, error) {
	items, err := k.Items(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []KnowledgeItem
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Title), q) || strings.Contains(strings.ToLower(it.Content), q) {
			out = append(out, it)
		}
	}
	return out, nil
}

// MemoryContext renders the current time, the latest memories and the
// latest knowledge items as an instructions suffix. It returns "" while
// memory is off.
func (k *Knowledge) MemoryContext(ctx context.Context) (string, error) {
	if !k.Gate.Enabled() {
		return "", nil
	}
	mems, err := k.Memories(ctx)
	if err != nil {
		return "", err
	}
	items, err := k.Items(ctx)
	if err != nil {
		return "", err
	}
	mems = latest(mems, k.MaxContextItems)
	items = latest(items, k.MaxContextItems)

	now := k.now()
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s (%s). Use it for time-appropriate greetings.\n", now.Format("15:04"), TimeOfDay(now))
	if len(mems) > 0 {
		b.WriteString("\nThings the user asked you to remember:\n")
		for _, m := range mems {
			b.WriteString("- ")
			if m.Category != "" {
				b.WriteString("[" + m.Category + "] ")
			}
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	if len(items) > 0 {
		b.WriteString("\nKnowledge base:\n")
		for _, it := range items {
			b.WriteString("- ")
			if it.Category != "" {
				b.WriteString("[" + it.Category + "] ")
			}
			b.WriteString(it.Title)
			if it.Content != "" {
				b.WriteString(": " + it.Content)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// TimeOfDay names the part of the day t falls in.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}

func latest[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

func listDecoded[T any](ctx context.Context, s Store, prefix Key) ([]T, error) {
	var out []T
	for e, err := range s.List(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		var v T
		if err := sonic.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("on decoding %s: %w", e.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
