package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// storedMessage is the wire format kept in Badger.
type storedMessage struct {
	ID           string           `json:"id"`
	Ticket       models.JobTicket `json:"ticket"`
	EnqueuedAt   time.Time        `json:"enqueued_at"`
	VisibleAt    time.Time        `json:"visible_at"`
	Retries      int              `json:"retries"`
	ReceiveCount int              `json:"receive_count"`
}

// BadgerBroker is a durable at-least-once queue on BadgerDB. Messages
// live under queue:{name}:msg:{id}; a visibility index under
// queue:{name}:index:{visibleAt}:{id} keeps ready messages findable in
// timestamp order. Receiving a message moves its index entry past the
// visibility timeout, so an unacked message resurfaces on its own.
type BadgerBroker struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	logger            arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Broker = (*BadgerBroker)(nil)

// NewBadgerBroker opens a broker over an existing Badger database.
func NewBadgerBroker(db *badger.DB, queueName string, visibilityTimeout time.Duration, logger arbor.ILogger) (*BadgerBroker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}

	return &BadgerBroker{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		logger:            logger,
	}, nil
}

// Enqueue stores a ticket as an immediately visible message.
func (b *BadgerBroker) Enqueue(ctx context.Context, ticket *models.JobTicket) error {
	if err := ticket.Validate(); err != nil {
		return fmt.Errorf("invalid ticket: %w", err)
	}
	return b.put(&storedMessage{
		ID:         uuid.New().String(),
		Ticket:     *ticket,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	})
}

// Requeue stores a fresh message for a failed delivery, visible after
// delay, with the retry count carried forward. The original message is
// acked separately by the caller.
func (b *BadgerBroker) Requeue(ctx context.Context, d *interfaces.Delivery, delay time.Duration) error {
	return b.put(&storedMessage{
		ID:         uuid.New().String(),
		Ticket:     *d.Ticket,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now().Add(delay),
		Retries:    d.Retries + 1,
	})
}

func (b *BadgerBroker) put(msg *storedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(b.msgKey(msg.ID), data); err != nil {
			return err
		}
		return txn.Set(b.indexKey(msg.VisibleAt, msg.ID), []byte{})
	})
}

// Receive claims the oldest visible message. The claim pushes the
// message's visibility out by the configured timeout and increments its
// receive count; the returned ack function deletes it for good.
func (b *BadgerBroker) Receive(ctx context.Context) (*interfaces.Delivery, func() error, error) {
	var claimed storedMessage

	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := b.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var oldIndexKey []byte
		found := false

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			visibleAt, id, err := b.parseIndexKey(key)
			if err != nil {
				continue
			}
			// Index keys sort by timestamp; the first future entry
			// means nothing after it is ready either.
			if visibleAt.After(now) {
				break
			}

			item, err := txn.Get(b.msgKey(id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry, clean it up.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &claimed)
			}); err != nil {
				return err
			}

			oldIndexKey = key
			found = true
			break
		}

		if !found {
			return interfaces.ErrNoMessage
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(b.visibilityTimeout)

		data, err := json.Marshal(&claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(b.msgKey(claimed.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(b.indexKey(claimed.VisibleAt, claimed.ID), []byte{})
	})
	if err != nil {
		return nil, nil, err
	}

	delivery := &interfaces.Delivery{
		MessageID:    claimed.ID,
		Ticket:       &claimed.Ticket,
		Retries:      claimed.Retries,
		ReceiveCount: claimed.ReceiveCount,
	}
	return delivery, func() error { return b.delete(claimed.ID) }, nil
}

func (b *BadgerBroker) delete(messageID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		msgKey := b.msgKey(messageID)
		item, err := txn.Get(msgKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // Already acked
			}
			return err
		}

		var current storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if err := txn.Delete(b.indexKey(current.VisibleAt, messageID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(msgKey)
	})
}

// Extend pushes out the visibility timeout of an in-flight message.
func (b *BadgerBroker) Extend(ctx context.Context, messageID string, d time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		msgKey := b.msgKey(messageID)
		item, err := txn.Get(msgKey)
		if err != nil {
			return err
		}

		var msg storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		oldVisibleAt := msg.VisibleAt
		msg.VisibleAt = time.Now().Add(d)

		data, err := json.Marshal(&msg)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey, data); err != nil {
			return err
		}
		if err := txn.Delete(b.indexKey(oldVisibleAt, messageID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(b.indexKey(msg.VisibleAt, messageID), []byte{})
	})
}

// Len counts stored messages, visible or not.
func (b *BadgerBroker) Len(ctx context.Context) (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", b.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close is a no-op; the database is owned by the caller.
func (b *BadgerBroker) Close() error {
	return nil
}

func (b *BadgerBroker) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", b.queueName, id))
}

func (b *BadgerBroker) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", b.queueName))
}

func (b *BadgerBroker) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so lexicographic order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", b.queueName, visibleAt.UnixNano(), id))
}

func (b *BadgerBroker) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := b.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid index key length")
	}

	suffix := string(key[len(prefix):])
	if len(suffix) < 21 { // 20 digits + colon
		return time.Time{}, "", fmt.Errorf("invalid index key suffix")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
