package store

import (
	"bytes"
	"fmt"
	"time"

	"chatsync/pkg/logger"

	"github.com/cockroachdb/pebble"
)

// CompactVersions drops historical version rows older than keep, always
// retaining the newest version of every message. Canonical message rows
// are never touched here; deletion of content stays logical.
func CompactVersions(keep time.Duration, dryRun bool) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	cutoff := time.Now().UTC().Add(-keep).UnixNano()
	pfx := []byte("version:msg:")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: pfx, UpperBound: prefixUpperBound(pfx)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	wb := db.NewBatch()
	removed := 0
	var curMsg []byte
	var pending []byte // oldest surviving candidate for the current message
	drop := func(key []byte) {
		if !dryRun {
			_ = wb.Delete(key, nil)
		}
		removed++
	}

	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		rest := key[len(pfx):]
		i := bytes.LastIndexByte(rest, ':')
		if i < 0 || len(rest) < i+21 {
			continue
		}
		msgID := rest[:i]
		var ts int64
		if _, err := fmt.Sscanf(string(rest[i+1:i+21]), "%020d", &ts); err != nil {
			continue
		}
		if !bytes.Equal(msgID, curMsg) {
			// new message group; the previous pending was its message's
			// newest version and survives
			curMsg = append(curMsg[:0], msgID...)
			pending = nil
		}
		// any earlier pending version is superseded by this newer one
		if pending != nil {
			drop(pending)
			pending = nil
		}
		if ts < cutoff {
			// deletable unless it turns out to be the newest version
			pending = key
		}
	}
	if err := iter.Error(); err != nil {
		return removed, err
	}
	if !dryRun && wb.Count() > 0 {
		if err := applyBatch(wb); err != nil {
			return removed, err
		}
	}
	logger.Info("version_compaction_done", "removed", removed, "dry_run", dryRun)
	return removed, nil
}
