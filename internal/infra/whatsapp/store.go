// Package whatsapp adapts whatsmeow to the domain socket contract:
// socket factory, event translation and pairing.
package whatsapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wafleet/internal/storage/authstore"
)

// creds is the credential blob kept per session. Its presence marks a
// session as paired and eligible for rehydration.
type creds struct {
	JID      string    `json:"jid"`
	Platform string    `json:"platform,omitempty"`
	PairedAt time.Time `json:"paired_at"`
}

// DeviceStore wraps the whatsmeow device container and maps sessions
// to devices through the auth blob store.
type DeviceStore struct {
	container *sqlstore.Container
	auth      authstore.Store
}

// NewDeviceStore prepares the whatsmeow container on an existing
// database connection and runs its schema upgrades
func NewDeviceStore(ctx context.Context, db *sql.DB, dialect string, auth authstore.Store) (*DeviceStore, error) {
	if dialect == "postgres" {
		sqlstore.PostgresArrayWrapper = pq.Array
	}
	container := sqlstore.NewWithDB(db, dialect, waLog.Noop)
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("failed to upgrade whatsmeow store: %w", err)
	}
	return &DeviceStore{container: container, auth: auth}, nil
}

// deviceFor resolves the session's device. Paired sessions load their
// stored device; unpaired ones get a fresh device only when pairing
// is allowed.
func (s *DeviceStore) deviceFor(ctx context.Context, sessionID string, allowPairing bool) (*store.Device, error) {
	blob, err := s.auth.Get(ctx, sessionID, authstore.CredsFilename)
	if err != nil {
		if !errors.Is(err, authstore.ErrBlobNotFound) {
			return nil, fmt.Errorf("failed to load credentials: %w", err)
		}
		if !allowPairing {
			return nil, fmt.Errorf("session %s has no stored credentials", sessionID)
		}
		return s.container.NewDevice(), nil
	}

	var c creds
	if err := json.Unmarshal(blob, &c); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	jid, err := types.ParseJID(c.JID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored JID: %w", err)
	}

	device, err := s.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	if device == nil {
		log.Warn().
			Str("session_id", sessionID).
			Str("jid", c.JID).
			Msg("Credentials reference a missing device")
		if !allowPairing {
			return nil, fmt.Errorf("session %s device state is gone", sessionID)
		}
		return s.container.NewDevice(), nil
	}
	return device, nil
}

// DeleteDevice drops the whatsmeow device and key rows referenced by
// the session's creds blob. Call before the blob itself is erased.
func (s *DeviceStore) DeleteDevice(ctx context.Context, sessionID string) error {
	blob, err := s.auth.Get(ctx, sessionID, authstore.CredsFilename)
	if err != nil {
		if errors.Is(err, authstore.ErrBlobNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	var c creds
	if err := json.Unmarshal(blob, &c); err != nil {
		return fmt.Errorf("failed to decode credentials: %w", err)
	}
	jid, err := types.ParseJID(c.JID)
	if err != nil {
		return fmt.Errorf("failed to parse stored JID: %w", err)
	}

	device, err := s.container.GetDevice(ctx, jid)
	if err != nil {
		return fmt.Errorf("failed to load device: %w", err)
	}
	if device == nil {
		return nil
	}
	if err := device.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	log.Info().Str("session_id", sessionID).Str("jid", c.JID).Msg("Device state erased")
	return nil
}

// credsBlob serializes the credential marker for a paired device
func credsBlob(jid types.JID, platform string) []byte {
	data, _ := json.Marshal(creds{
		JID:      jid.String(),
		Platform: platform,
		PairedAt: time.Now(),
	})
	return data
}
