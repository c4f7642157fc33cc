// Package preferences provides the synchronizer that reconciles the local
// preference cache against the remote source of truth.
package preferences

import (
	"context"
	"encoding/json"
)

// RemoteClient is the narrow collaborator for the remote preference endpoint.
// Implementations classify every failure as a *models.SyncError so the
// synchronizer can decide between surfacing, retrying, and local fallback.
//
// FetchPreferences returns the raw remote payload. Explicit absence of data is
// reported as a SyncError with code NO_DATA_FOUND, not as an empty payload.
type RemoteClient interface {
	FetchPreferences(ctx context.Context, identity string) (json.RawMessage, error)
	StorePreferences(ctx context.Context, identity string, payloadJSON string) error
}
