package store

import (
	"context"
	"errors"
)

// Settings is a get/set string store for preferences that outlive a run.
// The CLI keeps the voice, turn mode and memory switch here. Credentials
// are never stored.
type Settings struct {
	s Store
}

func NewSettings(s Store) *Settings {
	return &Settings{s: s}
}

func settingKey(name string) Key { return Key{"settings", name} }

// Get returns def when the setting was never written.
func (st *Settings) Get(ctx context.Context, name, def string) (string, error) {
	v, err := st.s.Get(ctx, settingKey(name))
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (st *Settings) Set(ctx context.Context, name, value string) error {
	return st.s.Set(ctx, settingKey(name), []byte(value))
}

func (st *Settings) Unset(ctx context.Context, name string) error {
	return st.s.Delete(ctx, settingKey(name))
}

// All returns every stored setting.
func (st *Settings) All(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for e, err := range st.s.List(ctx, Key{"settings"}) {
		if err != nil {
			return nil, err
		}
		out[e.Key[len(e.Key)-1]] = string(e.Value)
	}
	return out, nil
}
