package resource

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/wippyai/script-runtime/errors"
)

// Table is the canonical registry of resources addressable from script by id.
// Ids are assigned in strictly increasing order and never reused while the
// table lives, so a stale id can only miss, never alias a newer resource.
// Safe for concurrent use.
type Table struct {
	entries   map[ID]*cell
	nextID    ID
	mu        sync.RWMutex
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates an empty table. The first assigned id is 1.
func NewTable() *Table {
	return &Table{
		entries: make(map[ID]*cell, 64),
		nextID:  1,
	}
}

// Add inserts a resource and returns its freshly assigned id. The table
// holds one reference; the resource closes when that reference and every
// clone are released.
func (t *Table) Add(res Resource) ID {
	return t.insert(newCell(res))
}

// AddRef inserts an additional table entry for an already-referenced
// resource. The new id shares ownership with the original: the resource
// closes only after every id and every clone is released.
func AddRef[T Resource](t *Table, ref *Ref[T]) ID {
	// The clone's count transfers to the new table entry.
	clone := ref.Clone()
	return t.insert(clone.c)
}

func (t *Table) insert(c *cell) ID {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.entries[id] = c
	t.mu.Unlock()

	t.notify(Event{Type: EventAdded, ID: id, Name: c.res.Name()})
	return id
}

// Get returns a new reference to the resource under id. The caller owns the
// returned ref and must release it.
func (t *Table) Get(id ID) (*Ref[Resource], error) {
	t.mu.RLock()
	c, ok := t.entries[id]
	if ok {
		// Retain before unlocking so a concurrent Take+Release cannot close
		// the resource under us.
		c.retain()
	}
	t.mu.RUnlock()

	if !ok {
		return nil, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	return newRef(c, c.res), nil
}

// Get returns a typed reference to the resource under id. Absent ids and
// dynamic type mismatches both fail; guests observe either as a bad resource
// id.
func Get[T Resource](t *Table, id ID) (*Ref[T], error) {
	t.mu.RLock()
	c, ok := t.entries[id]
	var res T
	if ok {
		res, ok = c.res.(T)
		if ok {
			c.retain()
		}
	}
	t.mu.RUnlock()

	if c == nil {
		return nil, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseTable, uint32(id),
			fmt.Sprintf("%T", res), fmt.Sprintf("%T", c.res))
	}
	return newRef(c, res), nil
}

// Has reports whether id is live in the table.
func (t *Table) Has(id ID) bool {
	t.mu.RLock()
	_, ok := t.entries[id]
	t.mu.RUnlock()
	return ok
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	n := len(t.entries)
	t.mu.RUnlock()
	return n
}

// Take removes the entry and transfers the table's reference to the caller.
// No cleanup runs here: the caller finalizes by releasing the ref.
func (t *Table) Take(id ID) (*Ref[Resource], error) {
	t.mu.Lock()
	c, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return nil, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	t.notify(Event{Type: EventRemoved, ID: id, Name: c.res.Name()})
	return newRef(c, c.res), nil
}

// Take removes the entry and transfers the table's reference to the caller,
// type-checked. On a type mismatch the entry stays in the table.
func Take[T Resource](t *Table, id ID) (*Ref[T], error) {
	t.mu.Lock()
	c, ok := t.entries[id]
	var res T
	if ok {
		res, ok = c.res.(T)
		if ok {
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	if c == nil {
		return nil, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseTable, uint32(id),
			fmt.Sprintf("%T", res), fmt.Sprintf("%T", c.res))
	}
	t.notify(Event{Type: EventRemoved, ID: id, Name: res.Name()})
	return newRef(c, res), nil
}

// Replace swaps the resource stored under a live id, releasing the table's
// reference to the old one. The id must be live: replacing an absent id is a
// programmer error and panics.
func (t *Table) Replace(id ID, res Resource) {
	t.mu.Lock()
	old, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		panic(fmt.Sprintf("resource: replace of unknown id %d", id))
	}
	t.entries[id] = newCell(res)
	t.mu.Unlock()

	// Release outside the lock: Close may re-enter the table.
	old.release()
	t.notify(Event{Type: EventReplaced, ID: id, Name: res.Name()})
}

// Names returns the id and kind of every live resource, for leak
// diagnostics.
func (t *Table) Names() map[ID]string {
	t.mu.RLock()
	names := make(map[ID]string, len(t.entries))
	for id, c := range t.entries {
		names[id] = c.res.Name()
	}
	t.mu.RUnlock()
	return names
}

// Each calls fn for every live resource in ascending id order until fn
// returns false. fn must not call back into the table.
func (t *Table) Each(fn func(ID, Resource) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]ID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if !fn(id, t.entries[id].res) {
			break
		}
	}
}

// Clear removes every entry and releases the table's references. Resources
// still cloned elsewhere survive until those clones release. The id counter
// is not reset: ids stay unique across Clear.
func (t *Table) Clear() {
	t.mu.Lock()
	old := t.entries
	t.entries = make(map[ID]*cell, 64)
	t.mu.Unlock()

	for id, c := range old {
		t.notify(Event{Type: EventRemoved, ID: id, Name: c.res.Name()})
		c.release()
	}
}

// GetFD exposes the raw file descriptor behind id for fast-path syscalls,
// bypassing full dispatch. Best-effort: the descriptor may be invalidated
// out-of-band, so callers must revalidate at use.
func (t *Table) GetFD(id ID) (int, error) {
	res, err := t.peek(id)
	if err != nil {
		return -1, err
	}
	fb, ok := res.(FDBacked)
	if !ok {
		return -1, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	fd, ok := fb.BackingFD()
	if !ok {
		return -1, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	return fd, nil
}

// GetSocket exposes the network connection behind id. Same best-effort
// contract as GetFD.
func (t *Table) GetSocket(id ID) (net.Conn, error) {
	res, err := t.peek(id)
	if err != nil {
		return nil, err
	}
	sb, ok := res.(SocketBacked)
	if !ok {
		return nil, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	conn, ok := sb.BackingSocket()
	if !ok {
		return nil, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	return conn, nil
}

// GetHandle exposes the opaque OS handle behind id. Same best-effort
// contract as GetFD.
func (t *Table) GetHandle(id ID) (uintptr, error) {
	res, err := t.peek(id)
	if err != nil {
		return 0, err
	}
	hb, ok := res.(HandleBacked)
	if !ok {
		return 0, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	h, ok := hb.BackingHandle()
	if !ok {
		return 0, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	return h, nil
}

// peek reads the resource under id without taking a reference. Only for the
// narrow accessors, which copy a scalar out and drop the resource.
func (t *Table) peek(id ID) (Resource, error) {
	t.mu.RLock()
	c, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return nil, errors.BadResourceID(errors.PhaseTable, uint32(id))
	}
	return c.res, nil
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
