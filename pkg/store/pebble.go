package store

import (
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/telemetry"

	"github.com/cockroachdb/pebble"
)

var db *pebble.DB

// convMu serializes conversation meta read-modify-write cycles. Pebble has
// no row-level transactions, so the (message insert + updatedAt bump) unit
// is one write batch guarded by this lock.
var convMu sync.Mutex

// editWindow bounds author edits/deletes relative to message creation.
var editWindow = 60 * time.Second

// SetEditWindow overrides the mutation window (startup only).
func SetEditWindow(d time.Duration) {
	if d > 0 {
		editWindow = d
	}
}

// EditWindow returns the configured mutation window.
func EditWindow() time.Duration { return editWindow }

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// applyBatch commits a write batch durably and records its latency.
func applyBatch(wb *pebble.Batch) error {
	start := time.Now()
	err := db.Apply(wb, pebble.Sync)
	telemetry.ObserveStoreBatch(time.Since(start))
	return err
}

// Key builders. The msg keyspace sorts by message id, which itself sorts
// by creation time, so iteration order is time order.

func convMetaKey(convID string) []byte {
	return []byte("conv:" + convID + ":meta")
}

func msgKey(convID, msgID string) []byte {
	return []byte("conv:" + convID + ":msg:" + msgID)
}

func msgPrefix(convID string) []byte {
	return []byte("conv:" + convID + ":msg:")
}

func clientKey(convID, clientID string) []byte {
	return []byte("conv:" + convID + ":client:" + clientID)
}

func latestKey(msgID string) []byte {
	return []byte("latest:msg:" + msgID)
}

func versionKey(msgID string, ts int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("version:msg:%s:%020d-%06d", msgID, ts, seq))
}

func versionPrefix(msgID string) []byte {
	return []byte("version:msg:" + msgID + ":")
}

func directKey(a, b string) []byte {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return []byte("direct:" + lo + ":" + hi)
}

func memberKey(userID, convID string) []byte {
	return []byte("user:" + userID + ":conv:" + convID)
}

func memberPrefix(userID string) []byte {
	return []byte("user:" + userID + ":conv:")
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// Used by admin tooling and tests.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, notOpened()
	}
	pfx := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: pfx, UpperBound: prefixUpperBound(pfx)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(append([]byte(nil), iter.Key()...)))
	}
	return out, iter.Error()
}
