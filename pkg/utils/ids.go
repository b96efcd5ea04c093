package utils

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// seq reduces id collisions when multiple ids are minted within the same
// nanosecond.
var seq uint64

// GenMsgID mints a message id that sorts lexically by creation time. The
// id is the keyset cursor for pagination, so the ordering property is load
// bearing: <020d unix_nano>-<06d seq>.
func GenMsgID() string {
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1) % 1000000
	return fmt.Sprintf("m%020d-%06d", ts, s)
}

// GenConvID mints an opaque conversation id.
func GenConvID() string {
	return "c" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenProvisionalID mints the temporary server-side id carried by the
// pre-persist broadcast of a send. The reserved prefix keeps it
// distinguishable from authoritative ids.
func GenProvisionalID() string {
	return "prov-" + uuid.NewString()
}

// MsgTS extracts the creation timestamp (ns) embedded in a message id, or
// 0 if the id is not in the sortable format.
func MsgTS(id string) int64 {
	if len(id) < 21 || id[0] != 'm' {
		return 0
	}
	var ts int64
	if _, err := fmt.Sscanf(id[1:21], "%020d", &ts); err != nil {
		return 0
	}
	return ts
}
