// Package ledger records per-request token usage in a local BadgerDB store.
//
// Key layout:
//
//	usage/{chatID}/{requestID} → msgpack-encoded Record
//
// Writes are best-effort from the caller's point of view: a chat response
// never fails because the ledger does.
package ledger

import (
	"context"
	"errors"
	"iter"
	"log"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "usage/"

// Record is one completed chat request's usage.
type Record struct {
	ChatID           string    `msgpack:"chat_id" json:"chatId"`
	RequestID        string    `msgpack:"request_id" json:"requestId"`
	Model            string    `msgpack:"model" json:"model"`
	PromptTokens     int64     `msgpack:"prompt_tokens" json:"promptTokens"`
	CompletionTokens int64     `msgpack:"completion_tokens" json:"completionTokens"`
	TotalTokens      int64     `msgpack:"total_tokens" json:"totalTokens"`
	Segments         int       `msgpack:"segments" json:"segments"`
	When             time.Time `msgpack:"when" json:"when"`
}

// ChatTotal is the aggregated usage of one chat.
type ChatTotal struct {
	ChatID           string    `json:"chatId"`
	Requests         int       `json:"requests"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	TotalTokens      int64     `json:"totalTokens"`
	LastActive       time.Time `json:"lastActive"`
}

// Options configures the ledger store.
type Options struct {
	// Dir is the directory for data files.
	// Required unless InMemory.
	Dir string

	// InMemory runs the store without disk persistence.
	// Useful for testing with a real badger engine.
	InMemory bool

	// ReadOnly opens the store for reading only, so it can be inspected
	// while another process holds the write lock.
	ReadOnly bool

	// Logger sets the badger logger. If nil, a logger that suppresses
	// debug and info output is used.
	Logger badger.Logger
}

// Ledger is a usage store backed by BadgerDB v4.
type Ledger struct {
	db *badger.DB
}

// Open opens the ledger store.
func Open(opts Options) (*Ledger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("ledger: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.ReadOnly {
		dbOpts = dbOpts.WithReadOnly(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(defaultLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append records one request's usage. A zero When is stamped with the
// current time.
func (l *Ledger) Append(_ context.Context, rec *Record) error {
	if rec.ChatID == "" || rec.RequestID == "" {
		return errors.New("ledger: record needs chat and request IDs")
	}
	stored := *rec
	if stored.When.IsZero() {
		stored.When = time.Now()
	}
	data, err := msgpack.Marshal(&stored)
	if err != nil {
		return err
	}
	key := []byte(keyPrefix + stored.ChatID + "/" + stored.RequestID)
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// List yields the records of one chat in key order.
func (l *Ledger) List(_ context.Context, chatID string) iter.Seq2[*Record, error] {
	prefix := []byte(keyPrefix + chatID + "/")
	return func(yield func(*Record, error) bool) {
		err := l.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = prefix
			it := txn.NewIterator(iterOpts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				val, err := it.Item().ValueCopy(nil)
				if err != nil {
					if !yield(nil, err) {
						return nil
					}
					continue
				}
				var rec Record
				if err := msgpack.Unmarshal(val, &rec); err != nil {
					continue // skip malformed entries
				}
				if !yield(&rec, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

// Totals aggregates usage per chat across the whole ledger, ordered by
// chat ID.
func (l *Ledger) Totals(_ context.Context) ([]*ChatTotal, error) {
	prefix := []byte(keyPrefix)
	var (
		totals []*ChatTotal
		cur    *ChatTotal
	)
	err := l.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			chatID, ok := chatIDFromKey(item.Key())
			if !ok {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec Record
			if err := msgpack.Unmarshal(val, &rec); err != nil {
				continue
			}
			// Keys are chat-ID ordered, so one chat's records are adjacent.
			if cur == nil || cur.ChatID != chatID {
				cur = &ChatTotal{ChatID: chatID}
				totals = append(totals, cur)
			}
			cur.Requests++
			cur.PromptTokens += rec.PromptTokens
			cur.CompletionTokens += rec.CompletionTokens
			cur.TotalTokens += rec.TotalTokens
			if rec.When.After(cur.LastActive) {
				cur.LastActive = rec.When
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func chatIDFromKey(key []byte) (string, bool) {
	rest, ok := strings.CutPrefix(string(key), keyPrefix)
	if !ok {
		return "", false
	}
	chatID, _, ok := strings.Cut(rest, "/")
	return chatID, ok
}

// defaultLogger wraps the standard log package for badger, suppressing
// debug and info level messages.
type defaultLogger struct{}

func (defaultLogger) Errorf(f string, v ...interface{}) { log.Printf("[badger] ERROR: "+f, v...) }
func (defaultLogger) Warningf(f string, v ...interface{}) {
	log.Printf("[badger] WARN: "+f, v...)
}
func (defaultLogger) Infof(string, ...interface{})  {}
func (defaultLogger) Debugf(string, ...interface{}) {}
