package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"listing-dm/contract"
	"listing-dm/domain"
	dmerrors "listing-dm/errors"
	"listing-dm/observability"
)

// BadgerStore is the store-of-record implementation for local and test
// deployments. One instance acts on behalf of one user; instances sharing
// the same DB and Fanout see each other's traffic, which is how two-party
// scenarios run in a single process.
//
// Keys are formatted as "msg:{userA}:{userB}:{timestamp_padded}:{uuid}"
// with the participants sorted, to:
//  1. Keep one key range per conversation regardless of direction.
//  2. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  3. Prevent data loss by using UUID as a collision disconnector if two
//     messages arrive at the same nanosecond.
//
// A secondary "idx:{uuid}" entry points each message id at its row key so
// MarkRead avoids a range scan.
type BadgerStore struct {
	db          *badger.DB
	fanout      *Fanout
	log         *slog.Logger
	localUserID string
	validate    *validator.Validate
}

func NewBadgerStore(db *badger.DB, fanout *Fanout, log *slog.Logger, localUserID string) *BadgerStore {
	return &BadgerStore{
		db:          db,
		fanout:      fanout,
		log:         log,
		localUserID: localUserID,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

var _ contract.IMessageStore = (*BadgerStore)(nil)
var _ contract.ITypingChannel = (*BadgerStore)(nil)

// FetchHistory scans the conversation's key range in ascending order.
// Malformed rows are dropped and counted, never surfaced.
func (s *BadgerStore) FetchHistory(_ context.Context, counterpartID string) ([]domain.Message, error) {
	var rows [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(pairPrefix(s.localUserID, counterpartID))
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				rows = append(rows, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dmerrors.ErrStoreUnavailable, err)
	}

	var messages []domain.Message
	for _, raw := range rows {
		m, err := decodeMessage(raw, s.validate)
		if err != nil {
			observability.DroppedRows.Inc()
			s.log.Warn("Dropping malformed row", "counterpart", counterpartID, "err", err)
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Send assigns the canonical id and timestamp, persists the row, and
// echoes the record on the live feed of both participants.
func (s *BadgerStore) Send(_ context.Context, receiverID, content, contextID string) (domain.Message, error) {
	if receiverID == "" || content == "" {
		return domain.Message{}, dmerrors.ErrSendRejected
	}

	m := domain.Message{
		ID:         uuid.NewString(),
		SenderID:   s.localUserID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		ContextID:  contextID,
		Language:   detectLanguage(content),
		Delivery:   domain.Sent,
	}

	raw, err := encodeMessage(m)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", dmerrors.ErrSendRejected, err)
	}

	key := messageKey(m)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), raw); err != nil {
			return err
		}
		return txn.Set([]byte(indexKey(m.ID)), []byte(key))
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", dmerrors.ErrStoreUnavailable, err)
	}

	s.fanout.PublishInsert(m)
	return m, nil
}

// MarkRead flips IsRead on each row in place. Already-read rows are a
// no-op; ids without a row land in the failed list. The rest of the batch
// proceeds regardless.
func (s *BadgerStore) MarkRead(_ context.Context, ids []string) ([]string, error) {
	var failed []string
	var flipped []domain.Message

	for _, id := range ids {
		m, err := s.markOneRead(id)
		switch {
		case err == nil:
			flipped = append(flipped, m)
		case errors.Is(err, errAlreadyRead):
			// Idempotent no-op.
		case errors.Is(err, badger.ErrKeyNotFound):
			failed = append(failed, id)
		default:
			return nil, fmt.Errorf("%w: %v", dmerrors.ErrStoreUnavailable, err)
		}
	}

	for _, m := range flipped {
		s.fanout.PublishUpdate(m)
	}
	return failed, nil
}

var errAlreadyRead = errors.New("already read")

func (s *BadgerStore) markOneRead(id string) (domain.Message, error) {
	var updated domain.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey(id)))
		if err != nil {
			return err
		}
		var key []byte
		if err := item.Value(func(v []byte) error {
			key = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return err
		}

		rowItem, err := txn.Get(key)
		if err != nil {
			return err
		}
		var raw []byte
		if err := rowItem.Value(func(v []byte) error {
			raw = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return err
		}

		m, err := decodeMessage(raw, s.validate)
		if err != nil {
			return err
		}
		if m.IsRead {
			return errAlreadyRead
		}

		m.IsRead = true
		encoded, err := encodeMessage(m)
		if err != nil {
			return err
		}
		if err := txn.Set(key, encoded); err != nil {
			return err
		}
		updated = m
		return nil
	})
	return updated, err
}

// SubscribeLiveFeed attaches the caller to this user's slice of the feed.
func (s *BadgerStore) SubscribeLiveFeed(onInsert, onUpdate func(domain.Message)) (contract.Subscription, error) {
	return s.fanout.SubscribeFeed(s.localUserID, onInsert, onUpdate), nil
}

// Broadcast pushes a typing signal to the counterpart.
func (s *BadgerStore) Broadcast(_ context.Context, counterpartID string, typing bool) error {
	s.fanout.PublishTyping(domain.TypingSignal{
		UserID:   s.localUserID,
		PeerID:   counterpartID,
		IsTyping: typing,
		At:       time.Now().UTC(),
	})
	return nil
}

// Subscribe attaches the caller to signals addressed to this user.
func (s *BadgerStore) Subscribe(onSignal func(domain.TypingSignal)) (contract.Subscription, error) {
	return s.fanout.SubscribePresence(s.localUserID, onSignal), nil
}

func pairPrefix(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("msg:%s:%s:", a, b)
}

func messageKey(m domain.Message) string {
	return fmt.Sprintf("%s%019d:%s", pairPrefix(m.SenderID, m.ReceiverID), m.CreatedAt.UnixNano(), m.ID)
}

func indexKey(id string) string {
	return "idx:" + id
}
