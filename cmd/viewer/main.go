package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"

	"listing-dm/domain"
	"listing-dm/projection"
)

type config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" required:"true"`
	LocalUserID    string `envconfig:"LOCAL_USER_ID" required:"true"`
}

// diskRow mirrors the storage row format. Kept local so the viewer stays a
// standalone read-only binary.
type diskRow struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	At         int64  `json:"at"`
	IsRead     bool   `json:"is_read"`
	ContextID  string `json:"context_id,omitempty"`
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// Read-only open; BypassLockGuard allows peeking while the daemon
	// holds the lock.
	opts := badger.DefaultOptions(cfg.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	inbox := projection.NewInbox(cfg.LocalUserID)
	if err := foldMessages(db, cfg.LocalUserID, inbox); err != nil {
		log.Fatalf("Failed to read messages: %v", err)
	}

	render(os.Stdout, cfg.LocalUserID, inbox.Snapshot(), inbox.TotalUnread())
}

// foldMessages replays every stored message of the local user through the
// same aggregation the daemon uses, so the viewer shows the same inbox.
func foldMessages(db *badger.DB, localUserID string, inbox *projection.Inbox) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("msg:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var row diskRow
				if err := json.Unmarshal(v, &row); err != nil {
					// Skip corrupt rows, same as the daemon's codec.
					return nil
				}
				m := domain.Message{
					ID:         row.ID,
					SenderID:   row.SenderID,
					ReceiverID: row.ReceiverID,
					Content:    row.Content,
					CreatedAt:  time.Unix(0, row.At).UTC(),
					IsRead:     row.IsRead,
					ContextID:  row.ContextID,
				}
				counterpartID := m.CounterpartOf(localUserID)
				if counterpartID == localUserID || (m.SenderID != localUserID && m.ReceiverID != localUserID) {
					return nil
				}
				inbox.Apply(counterpartID, nil, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func render(out *os.File, localUserID string, conversations []domain.Conversation, totalUnread int) {
	color.Bold.Printf("Inbox of %s — %d conversation(s), ", localUserID, len(conversations))
	if totalUnread > 0 {
		color.Red.Printf("%d unread\n", totalUnread)
	} else {
		color.Green.Println("all read")
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Counterpart", "Last message", "At", "Unread", "Listing"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, c := range conversations {
		unread := fmt.Sprintf("%d", c.UnreadCount)
		if c.UnreadCount > 0 {
			unread = color.Red.Sprintf("%d", c.UnreadCount)
		}
		table.Append([]string{
			c.CounterpartID,
			truncate(c.LastPreview, 60),
			c.LastMessageAt.Local().Format("02 Jan 15:04"),
			unread,
			c.ContextID,
		})
	}
	table.Render()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "…"
}
