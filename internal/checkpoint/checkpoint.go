// Package checkpoint persists run state between orchestrator steps so
// paused runs can resume after process restarts. State crosses the
// boundary as serialized JSON keyed by conversation id.
package checkpoint

import "context"

// Store saves and loads serialized run state.
type Store interface {
	// Load returns the latest state for a conversation, or nil when
	// none has been saved.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save overwrites the state for a conversation.
	Save(ctx context.Context, key string, state []byte) error

	// Close releases any underlying resources.
	Close() error
}
