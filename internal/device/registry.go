package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides receiver management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the write-through Upsert/Delete/TouchLastSeen operations. State
// entries are not cached; they are written far more often than read.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]Receiver // Cached receivers by ID
	cacheMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRegistry creates a new receiver registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]Receiver),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// RefreshCache reloads all receivers from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	receivers, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading receivers: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]Receiver, len(receivers))
	for _, rec := range receivers {
		r.cache[rec.ID] = rec
	}

	r.log().Info("receiver cache refreshed", "count", len(receivers))
	return nil
}

// GetReceiver retrieves a receiver by ID.
// Returns ErrReceiverNotFound if the receiver does not exist.
func (r *Registry) GetReceiver(ctx context.Context, id string) (*Receiver, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		cp := cached
		return &cp, nil
	}

	// Fall back to the repository (might be a receiver not yet cached)
	receiver, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[receiver.ID] = *receiver
	r.cacheMu.Unlock()

	return receiver, nil
}

// ListReceivers retrieves all known receivers from the cache, falling
// back to the repository when the cache is empty.
func (r *Registry) ListReceivers(ctx context.Context) ([]Receiver, error) {
	r.cacheMu.RLock()
	if len(r.cache) > 0 {
		receivers := make([]Receiver, 0, len(r.cache))
		for _, rec := range r.cache {
			receivers = append(receivers, rec)
		}
		r.cacheMu.RUnlock()
		return receivers, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// Count returns the number of cached receivers.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Upsert inserts or refreshes a receiver, write-through to the cache.
func (r *Registry) Upsert(ctx context.Context, receiver *Receiver) error {
	if err := r.repo.Upsert(ctx, receiver); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[receiver.ID] = *receiver
	r.cacheMu.Unlock()

	return nil
}

// Delete removes a receiver and evicts it from the cache.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	return nil
}

// TouchLastSeen advances a receiver's last_seen timestamp, keeping the
// cached copy in step.
func (r *Registry) TouchLastSeen(ctx context.Context, id string, seen time.Time) error {
	if err := r.repo.TouchLastSeen(ctx, id, seen); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if rec, ok := r.cache[id]; ok {
		rec.LastSeen = seen.UTC()
		r.cache[id] = rec
	}
	r.cacheMu.Unlock()

	return nil
}

// SetState records the last known value for a status code.
func (r *Registry) SetState(ctx context.Context, receiverID, code, argument string) error {
	return r.repo.SetState(ctx, receiverID, code, argument)
}

// GetState retrieves the last known value for a status code.
func (r *Registry) GetState(ctx context.Context, receiverID, code string) (*StateEntry, error) {
	return r.repo.GetState(ctx, receiverID, code)
}

// ListState retrieves all stored state for a receiver.
func (r *Registry) ListState(ctx context.Context, receiverID string) ([]StateEntry, error) {
	return r.repo.ListState(ctx, receiverID)
}
