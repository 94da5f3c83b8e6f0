// Package state keeps the shared boolean array in the shared store.
//
// Updates are whole-array read-modify-write with last-writer-wins semantics:
// two concurrent SetIndex calls on different indices can overwrite each
// other. Applying the same value twice is a no-op, so replayed updates are
// harmless.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/store"
)

const (
	// DefaultKey is the store key holding the array
	DefaultKey = "state1"

	// DefaultSize is the number of flags created by Init
	DefaultSize = 100
)

// Options for the state store
type Options struct {
	Key  string
	Size int
}

// DefaultOptions returns the default key and size
func DefaultOptions() Options {
	return Options{
		Key:  DefaultKey,
		Size: DefaultSize,
	}
}

// Store reads and writes the boolean array
type Store struct {
	store   store.Store
	options Options
}

// NewStore creates a state store on top of s
func NewStore(s store.Store, options Options) *Store {
	if options.Key == "" {
		options.Key = DefaultKey
	}
	if options.Size <= 0 {
		options.Size = DefaultSize
	}
	return &Store{store: s, options: options}
}

// Key returns the store key of the array
func (s *Store) Key() string {
	return s.options.Key
}

// Init writes an all-false array unless one already exists. It reports
// whether this call created the array.
func (s *Store) Init(ctx context.Context) (bool, error) {
	data, err := json.Marshal(make([]bool, s.options.Size))
	if err != nil {
		return false, errors.NewSerializationError("json", err)
	}

	created, err := s.store.SetNX(ctx, s.options.Key, string(data))
	if err != nil {
		return false, err
	}
	if created {
		slog.Info("State array initialized", "key", s.options.Key, "size", s.options.Size)
	}
	return created, nil
}

// Get returns the array, or an empty slice when it has not been initialized
func (s *Store) Get(ctx context.Context) ([]bool, error) {
	flags, ok, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []bool{}, nil
	}
	return flags, nil
}

// SetIndex sets flags[index] = value by reading the whole array, changing one
// element and writing it back
func (s *Store) SetIndex(ctx context.Context, index int, value bool) error {
	flags, ok, err := s.load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrStateNotInitialized
	}
	if index < 0 || index >= len(flags) {
		return fmt.Errorf("%w: %d not in [0, %d)", errors.ErrIndexOutOfRange, index, len(flags))
	}

	flags[index] = value

	data, err := json.Marshal(flags)
	if err != nil {
		return errors.NewSerializationError("json", err)
	}
	return s.store.Set(ctx, s.options.Key, string(data), 0)
}

// Len returns the array length, or the configured size when the array does
// not exist yet
func (s *Store) Len(ctx context.Context) (int, error) {
	flags, ok, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.options.Size, nil
	}
	return len(flags), nil
}

func (s *Store) load(ctx context.Context) ([]bool, bool, error) {
	raw, ok, err := s.store.Get(ctx, s.options.Key)
	if err != nil || !ok {
		return nil, false, err
	}

	var flags []bool
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, false, errors.NewSerializationError("json", err)
	}
	return flags, true, nil
}
