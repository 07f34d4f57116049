package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"listing-dm/contract"
	"listing-dm/domain"
	dmerrors "listing-dm/errors"
)

// ProfileDirectory resolves counterpart identity from locally synced
// profile rows. Missing rows are an error; the service degrades to a
// placeholder on its side.
type ProfileDirectory struct {
	db  *badger.DB
	log *slog.Logger
}

func NewProfileDirectory(db *badger.DB, log *slog.Logger) *ProfileDirectory {
	return &ProfileDirectory{db: db, log: log}
}

var _ contract.IProfileDirectory = (*ProfileDirectory)(nil)

type profileRow struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

func (d *ProfileDirectory) Lookup(_ context.Context, userID string) (domain.Profile, error) {
	var row profileRow
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(profileKey(userID)))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &row)
		})
	})
	if err != nil {
		return domain.Profile{}, fmt.Errorf("%w: profile %s: %v", dmerrors.ErrStoreUnavailable, userID, err)
	}
	return domain.Profile{
		UserID:      row.UserID,
		DisplayName: row.DisplayName,
		AvatarRef:   row.AvatarRef,
	}, nil
}

// PutProfile upserts one profile row, used by the sync path and tests.
func (d *ProfileDirectory) PutProfile(p domain.Profile) error {
	raw, err := json.Marshal(profileRow{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		AvatarRef:   p.AvatarRef,
	})
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(profileKey(p.UserID)), raw)
	})
}

// ListingDirectory resolves listing labels for conversation context.
type ListingDirectory struct {
	db  *badger.DB
	log *slog.Logger
}

func NewListingDirectory(db *badger.DB, log *slog.Logger) *ListingDirectory {
	return &ListingDirectory{db: db, log: log}
}

var _ contract.IListingDirectory = (*ListingDirectory)(nil)

type listingRow struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (d *ListingDirectory) Label(_ context.Context, listingID string) (string, error) {
	var row listingRow
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(listingKey(listingID)))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &row)
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: listing %s: %v", dmerrors.ErrStoreUnavailable, listingID, err)
	}
	return row.Label, nil
}

// PutListing upserts one listing label row.
func (d *ListingDirectory) PutListing(id, label string) error {
	raw, err := json.Marshal(listingRow{ID: id, Label: label})
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(listingKey(id)), raw)
	})
}

func profileKey(userID string) string { return "profile:" + userID }

func listingKey(id string) string { return "listing:" + id }
