package client

import (
	"sort"
	"strings"
	"sync"
	"time"

	"chatsync/pkg/models"
)

// localPrefix marks client-fabricated provisional ids; they are always
// distinguishable from server-assigned ids.
const localPrefix = "local-"

// Cache is the client-held, ordered, deduplicated view of one
// conversation's messages. Three asynchronous input streams feed it
// (local optimistic mutations, broker push events, fallback resync
// reads) and all of them mutate it only through Apply/ApplyProvisional/
// Rollback, which implement the reconciliation algorithm. The only
// wholesale replacement allowed is the very first page load.
type Cache struct {
	mu      sync.Mutex
	conv    string
	entries []models.Message // ascending by (CreatedTS, ID)

	nextCursor string
	loaded     bool

	// rooms, when set, is the coupled room-list surface: its last-message
	// summary for this conversation is updated inside the same mutation
	// so the two surfaces never diverge mid-transition.
	rooms *RoomList
}

// NewCache builds an empty cache for one conversation view. rooms may be
// nil for standalone use.
func NewCache(convID string, rooms *RoomList) *Cache {
	return &Cache{conv: convID, rooms: rooms}
}

func less(a, b *models.Message) bool {
	if a.CreatedTS != b.CreatedTS {
		return a.CreatedTS < b.CreatedTS
	}
	return a.ID < b.ID
}

func (c *Cache) indexByID(id string) int {
	for i := range c.entries {
		if c.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// ApplyProvisional inserts the locally fabricated record for a send and
// returns it. The entry is keyed by clientID and carries a reserved-prefix
// id until the authoritative record arrives.
func (c *Cache) ApplyProvisional(clientID, authorID, text, replyTo string) models.Message {
	m := models.Message{
		ID:           localPrefix + clientID,
		Conversation: c.conv,
		Author:       authorID,
		Text:         text,
		ClientID:     clientID,
		ReplyTo:      replyTo,
		CreatedTS:    time.Now().UTC().UnixNano(),
		Provisional:  true,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(m)
	c.noteRooms()
	return m
}

// Apply reconciles one message-shaped event or response into the ordered
// list. It is idempotent: applying the same record twice leaves the cache
// unchanged after the first application.
func (c *Cache) Apply(m models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// delete events remove rather than insert
	if m.Deleted {
		if i := c.indexByID(m.ID); i >= 0 {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
		} else {
			c.dropProvisional(m)
		}
		c.noteRooms()
		return
	}

	// 1. same authoritative id already present: replace in place. This
	// collapses the provisional/final two-stage publish into one visible
	// entry and handles edit events.
	if i := c.indexByID(m.ID); i >= 0 {
		c.entries[i] = m
		c.noteRooms()
		return
	}

	// a provisional record whose clientId is already represented (by the
	// local provisional or, when the echo arrives late, by the final
	// record) adds nothing
	if m.Provisional && m.ClientID != "" {
		for i := range c.entries {
			if c.entries[i].ClientID == m.ClientID {
				return
			}
		}
	}

	// 2. remove at most one matching provisional entry so the incoming
	// authoritative copy never duplicates it
	c.dropProvisional(m)

	// 3. insert in time-ordered position
	c.insert(m)
	c.noteRooms()
}

// dropProvisional removes at most one provisional entry matching m by
// clientId, falling back to (text, author) equality. Only provisional
// entries are ever merged away by the heuristic, so two genuinely
// identical confirmed messages are never collapsed.
func (c *Cache) dropProvisional(m models.Message) {
	match := -1
	if m.ClientID != "" {
		for i := range c.entries {
			if c.entries[i].Provisional && c.entries[i].ClientID == m.ClientID {
				match = i
				break
			}
		}
	}
	if match < 0 {
		for i := range c.entries {
			if c.entries[i].Provisional && c.entries[i].Text == m.Text && c.entries[i].Author == m.Author {
				match = i
				break
			}
		}
	}
	if match >= 0 {
		c.entries = append(c.entries[:match], c.entries[match+1:]...)
	}
}

// Rollback removes the provisional entry for a failed send. After the
// rollback the cache is exactly its pre-send state.
func (c *Cache) Rollback(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexByID(localPrefix + clientID); i >= 0 {
		c.entries = append(c.entries[:i], c.entries[i+1:]...)
	}
	c.noteRooms()
}

func (c *Cache) insert(m models.Message) {
	i := sort.Search(len(c.entries), func(i int) bool { return !less(&c.entries[i], &m) })
	c.entries = append(c.entries, models.Message{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = m
}

// LoadInitial replaces the cache with the first full page. This is the
// only wholesale replacement; every later read merges through Apply or
// MergeOlderPage.
func (c *Cache) LoadInitial(items []models.Message, nextCursor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		// later reads must reconcile, not replace
		for _, m := range items {
			c.applyLocked(m)
		}
		if c.nextCursor == "" {
			c.nextCursor = nextCursor
		}
		return
	}
	c.entries = append([]models.Message(nil), items...)
	sort.Slice(c.entries, func(i, j int) bool { return less(&c.entries[i], &c.entries[j]) })
	c.nextCursor = nextCursor
	c.loaded = true
	c.noteRooms()
}

// applyLocked is Apply without the lock; callers hold c.mu.
func (c *Cache) applyLocked(m models.Message) {
	if m.Deleted {
		if i := c.indexByID(m.ID); i >= 0 {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
		}
		return
	}
	if i := c.indexByID(m.ID); i >= 0 {
		c.entries[i] = m
		return
	}
	if m.Provisional && m.ClientID != "" {
		for i := range c.entries {
			if c.entries[i].ClientID == m.ClientID {
				return
			}
		}
	}
	c.dropProvisional(m)
	c.insert(m)
}

// MergeOlderPage merges a page of strictly older history at the head of
// the list, preserving the total order invariant and skipping records
// already present. The caller owns viewport anchoring.
func (c *Cache) MergeOlderPage(items []models.Message, nextCursor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range items {
		if c.indexByID(m.ID) >= 0 {
			continue
		}
		c.insert(m)
	}
	c.nextCursor = nextCursor
}

// NextCursor returns the cursor for the next older page; empty means no
// more history.
func (c *Cache) NextCursor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextCursor
}

// Loaded reports whether the first page load happened.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Snapshot returns the ordered, deduplicated read-only projection handed
// to the rendering collaborator.
func (c *Cache) Snapshot() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.entries...)
}

// Len returns the number of visible entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// noteRooms pushes this conversation's newest visible message into the
// coupled room-list summary. Called with c.mu held so both surfaces move
// in one transition.
func (c *Cache) noteRooms() {
	if c.rooms == nil {
		return
	}
	var last *models.Message
	if n := len(c.entries); n > 0 {
		m := c.entries[n-1]
		last = &m
	}
	c.rooms.noteLastMessage(c.conv, last)
}

// CanModify reports whether the caller may still edit or delete m:
// author match, non-provisional, inside the window. The server re-checks
// independently and remains the source of truth.
func CanModify(m models.Message, userID string, window time.Duration, now time.Time) bool {
	if m.Provisional || m.Deleted {
		return false
	}
	if m.Author != userID {
		return false
	}
	if strings.HasPrefix(m.ID, localPrefix) {
		return false
	}
	return now.UnixNano()-m.CreatedTS < int64(window)
}
