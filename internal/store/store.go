// Package store persists the chat message log in BadgerDB. Each partition is
// an independent ordered log; keys embed a zero-padded nanosecond timestamp
// so lexicographic key order is chronological order.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	messagePrefix = "msg:"
	blobPrefix    = "blob:"
)

// Message is a single chat message record. Content is kept opaque so clients
// can ship structured payloads (text, images, quotes) without server-side
// schema changes.
type Message struct {
	ID         string          `json:"id"`
	Sender     string          `json:"sender"`
	Recipient  string          `json:"recipient"`
	Content    json.RawMessage `json:"content"`
	TimeString string          `json:"time_string"`
	CreatedAt  time.Time       `json:"created_at"`
	IsSeen     bool            `json:"is_seen"`
	SeenAt     *time.Time      `json:"seen_at"`
	ReplyToID  *string         `json:"reply_to_id"`
	ReplyTo    *ReplyPreview   `json:"reply_to,omitempty"`
}

// ReplyPreview is the shallow copy of a replied-to message attached on read
// when the reply reference resolves.
type ReplyPreview struct {
	Sender  string          `json:"sender"`
	Content json.RawMessage `json:"content"`
}

// Store wraps a Badger database as an append-only, seen-flag-aware message
// log with named blob storage on the side.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

// Open opens (or creates) the database at dir and returns a Store.
func Open(dir string, log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", dir, err)
	}
	return New(db, log), nil
}

// OpenInMemory opens an ephemeral store, used by tests.
func OpenInMemory(log *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening in-memory badger: %w", err)
	}
	return New(db, log), nil
}

// New wraps an already-open Badger handle.
func New(db *badger.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func partitionPrefix(partition string) []byte {
	return []byte(messagePrefix + partition + ":")
}

func messageKey(partition, id string) []byte {
	return append(partitionPrefix(partition), id...)
}

// newID builds a store-assigned message id: a zero-padded creation timestamp
// for ordering plus a UUID so two messages in the same nanosecond cannot
// collide.
func newID(at time.Time) string {
	return fmt.Sprintf("%019d:%s", at.UnixNano(), uuid.New())
}

// Append assigns an id to msg and persists it in the given partition. The
// returned record carries the assigned id.
func (s *Store) Append(partition string, msg Message) (Message, error) {
	msg.ID = newID(msg.CreatedAt)
	value, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("encoding message: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(partition, msg.ID), value)
	})
	if err != nil {
		return Message{}, fmt.Errorf("appending to partition %s: %w", partition, err)
	}
	s.log.Debug("message appended", "partition", partition, "id", msg.ID)
	return msg, nil
}

// ListOrdered returns every message in the partition in creation order.
func (s *Store) ListOrdered(partition string) ([]Message, error) {
	return s.scan(partition, func(Message) bool { return true })
}

// ListUnseen returns the partition's messages still awaiting a seen mark,
// in creation order.
func (s *Store) ListUnseen(partition string) ([]Message, error) {
	return s.scan(partition, func(m Message) bool { return !m.IsSeen })
}

func (s *Store) scan(partition string, keep func(Message) bool) ([]Message, error) {
	var messages []Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := partitionPrefix(partition)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var msg Message
				if err := json.Unmarshal(value, &msg); err != nil {
					return fmt.Errorf("decoding record %s: %w", it.Item().Key(), err)
				}
				if keep(msg) {
					messages = append(messages, msg)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning partition %s: %w", partition, err)
	}
	return messages, nil
}

// MarkAllSeen flips every unseen message in the partition to seen, stamping
// seen_at with at. The whole batch is a single transaction so a crash can
// never leave some of the batch marked and the rest not. Returns the updated
// records in creation order; an empty result means there was nothing to do.
func (s *Store) MarkAllSeen(partition string, at time.Time) ([]Message, error) {
	var updated []Message
	err := s.db.Update(func(txn *badger.Txn) error {
		prefix := partitionPrefix(partition)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var msg Message
			err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &msg)
			})
			if err != nil {
				return fmt.Errorf("decoding record %s: %w", item.Key(), err)
			}
			if msg.IsSeen {
				continue
			}
			seenAt := at
			msg.IsSeen = true
			msg.SeenAt = &seenAt
			value, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encoding record %s: %w", msg.ID, err)
			}
			if err := txn.Set(item.KeyCopy(nil), value); err != nil {
				return err
			}
			updated = append(updated, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("marking partition %s seen: %w", partition, err)
	}
	return updated, nil
}

// RemoveAll deletes every message in the partition.
func (s *Store) RemoveAll(partition string) error {
	if err := s.db.DropPrefix(partitionPrefix(partition)); err != nil {
		return fmt.Errorf("clearing partition %s: %w", partition, err)
	}
	return nil
}

// PutBlob stores an opaque payload under a name. Backs the bulk-persistence
// frames relayed over the transport (contact/SMS exports and the like).
func (s *Store) PutBlob(name string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blobPrefix+name), data)
	})
	if err != nil {
		return fmt.Errorf("storing blob %s: %w", name, err)
	}
	return nil
}

// GetBlob returns a previously stored payload, or badger.ErrKeyNotFound.
func (s *Store) GetBlob(name string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobPrefix + name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
