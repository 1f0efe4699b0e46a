package core

// EntryState is the state of an identity map entry.
type EntryState int

const (
	EntryUnknown  EntryState = iota // Nothing cached
	EntryExists                     // Existence known, record not fetched
	EntryResolved                   // Record fetched and cached
)

// String returns the state name
func (s EntryState) String() string {
	switch s {
	case EntryExists:
		return "exists"
	case EntryResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Entry is what the identity map knows about one resource identifier.
type Entry struct {
	state  EntryState
	exists bool
	record any
}

// Existence returns an entry recording whether a resource exists.
func Existence(exists bool) Entry {
	return Entry{state: EntryExists, exists: exists}
}

// Resolved returns an entry holding a fetched record.
func Resolved(record any) Entry {
	return Entry{state: EntryResolved, exists: true, record: record}
}

// State returns the entry state.
func (e Entry) State() EntryState {
	return e.state
}

// Exists reports whether the resource is known to exist. It is false for
// unknown entries.
func (e Entry) Exists() bool {
	return e.exists
}

// Record returns the cached record of a resolved entry.
func (e Entry) Record() any {
	return e.record
}

// IdentityMap caches lookups for one request so that each identifier costs at
// most one adapter round trip and always yields the same record value.
//
// It is owned by a single Store and is not safe for concurrent use.
type IdentityMap struct {
	entries map[ResourceIdentifier]Entry
}

// NewIdentityMap creates an empty identity map
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		entries: make(map[ResourceIdentifier]Entry),
	}
}

// Lookup returns the entry for (resourceType, id), EntryUnknown if absent.
func (m *IdentityMap) Lookup(resourceType, id string) Entry {
	return m.entries[ResourceIdentifier{Type: resourceType, ID: id}]
}

// Add records a lookup result. An existence entry may not replace a resolved
// record: that means two code paths disagree about the record and is
// reported as CodeIdentityMapConflict.
func (m *IdentityMap) Add(resourceType, id string, entry Entry) error {
	key := ResourceIdentifier{Type: resourceType, ID: id}

	if entry.state == EntryUnknown {
		delete(m.entries, key)
		return nil
	}

	if current, ok := m.entries[key]; ok && current.state == EntryResolved && entry.state == EntryExists {
		return &Error{
			Code:         CodeIdentityMapConflict,
			Message:      "cannot replace a resolved record with an existence flag",
			ResourceType: resourceType,
			ID:           id,
		}
	}

	m.entries[key] = entry
	return nil
}

// AddRecord records a fetched record. A nil record is recorded as known not
// to exist.
func (m *IdentityMap) AddRecord(resourceType, id string, record any) error {
	if record == nil {
		return m.Add(resourceType, id, Existence(false))
	}
	return m.Add(resourceType, id, Resolved(record))
}

// AddExists records whether a resource exists.
func (m *IdentityMap) AddExists(resourceType, id string, exists bool) error {
	return m.Add(resourceType, id, Existence(exists))
}

// Exists returns whether the resource exists. known is false when the map
// has no answer and the adapter must be asked.
func (m *IdentityMap) Exists(resourceType, id string) (exists bool, known bool) {
	entry := m.Lookup(resourceType, id)
	if entry.state == EntryUnknown {
		return false, false
	}
	return entry.exists, true
}

// Find returns the cached record. (record, true) means resolved, (nil, true)
// means known not to exist and (nil, false) means the adapter must be asked.
func (m *IdentityMap) Find(resourceType, id string) (record any, known bool) {
	entry := m.Lookup(resourceType, id)
	switch {
	case entry.state == EntryResolved:
		return entry.record, true
	case entry.state == EntryExists && !entry.exists:
		return nil, true
	default:
		return nil, false
	}
}

// Len returns the number of known entries.
func (m *IdentityMap) Len() int {
	return len(m.entries)
}
