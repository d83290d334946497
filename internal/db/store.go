package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Store archives named snapshots of room documents. Live room state never
// goes through it.
type Store interface {
	EnsureRoom(ctx context.Context, roomID string) error
	CreateVersion(ctx context.Context, v NewVersion) (*Version, error)
	GetVersion(ctx context.Context, id int) (*Version, error)
	ListVersions(ctx context.Context, roomID string, limit, offset int) ([]Version, error)
	GetVersionCount(ctx context.Context, roomID string) (int, error)
	GetLatestVersion(ctx context.Context, roomID string) (*Version, error)
	DeleteVersion(ctx context.Context, id int) error
	DeleteOldAutoVersions(ctx context.Context, roomID string, keepCount int) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

type Version struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"` // Auto-saved vs manual
}

// NewVersion is the input to CreateVersion. ContentHash is filled from
// Content when empty.
type NewVersion struct {
	RoomID      string
	Name        string
	Description string
	Content     string
	ContentHash string
	CreatedBy   string
	IsAuto      bool
}

type Stats struct {
	RoomCount    int `json:"room_count"`
	VersionCount int `json:"version_count"`
}

// HashContent is the short content fingerprint used to spot duplicate saves.
func HashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:8])
}

func (v *NewVersion) hash() string {
	if v.ContentHash == "" {
		v.ContentHash = HashContent(v.Content)
	}
	return v.ContentHash
}

// SaveAutoVersion stores an auto-save unless the room's latest version
// already has the same content, then prunes auto-saves beyond keep. It
// returns the latest version either way and whether a new one was written.
func SaveAutoVersion(ctx context.Context, store Store, nv NewVersion, keep int) (*Version, bool, error) {
	nv.IsAuto = true
	hash := nv.hash()

	latest, err := store.GetLatestVersion(ctx, nv.RoomID)
	if err != nil {
		return nil, false, err
	}
	if latest != nil && latest.ContentHash == hash {
		return latest, false, nil
	}

	if nv.Name == "" {
		nv.Name = "Auto-save " + time.Now().Format("Jan 2, 3:04 PM")
	}

	version, err := store.CreateVersion(ctx, nv)
	if err != nil {
		return nil, false, err
	}

	if keep > 0 {
		if err := store.DeleteOldAutoVersions(ctx, nv.RoomID, keep); err != nil {
			return version, true, fmt.Errorf("failed to prune auto versions: %w", err)
		}
	}
	return version, true, nil
}
