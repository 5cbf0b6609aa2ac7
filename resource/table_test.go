package resource

import (
	"strings"
	"testing"

	"github.com/wippyai/script-runtime/errors"
)

type closeCounter struct {
	count int
}

func (c *closeCounter) Name() string { return "closeCounter" }

func (c *closeCounter) Close() {
	c.count++
}

type fakeFile struct {
	path   string
	fd     int
	closed bool
}

func (f *fakeFile) Name() string { return "fakeFile" }

func (f *fakeFile) Close() { f.closed = true }

func (f *fakeFile) BackingFD() (int, bool) { return f.fd, !f.closed }

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

func TestTable_Basic(t *testing.T) {
	table := NewTable()

	id := table.Add(&closeCounter{})
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	ref, err := table.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ref.Get().Name() != "closeCounter" {
		t.Fatalf("wrong resource: %s", ref.Get().Name())
	}
	ref.Release()

	if !table.Has(id) {
		t.Fatal("Has should report live id")
	}
	if table.Len() != 1 {
		t.Fatalf("Len = %d, want 1", table.Len())
	}

	taken, err := table.Take(id)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	taken.Release()

	if table.Len() != 0 {
		t.Fatalf("Len = %d after Take, want 0", table.Len())
	}
	if _, err := table.Get(id); !errors.Is(err, &errors.Error{Phase: errors.PhaseTable, Kind: errors.KindBadResourceID}) {
		t.Fatalf("Get after Take = %v, want bad resource id", err)
	}
}

func TestTable_MonotonicIDs(t *testing.T) {
	table := NewTable()

	var prev ID
	for i := 0; i < 100; i++ {
		id := table.Add(&closeCounter{})
		if id <= prev {
			t.Fatalf("id %d not strictly increasing after %d", id, prev)
		}
		prev = id
	}

	// Removal must not free ids for reuse.
	ref, _ := table.Take(1)
	ref.Release()
	if id := table.Add(&closeCounter{}); id != prev+1 {
		t.Fatalf("id after removal = %d, want %d", id, prev+1)
	}

	// Neither must Clear.
	table.Clear()
	if id := table.Add(&closeCounter{}); id != prev+2 {
		t.Fatalf("id after Clear = %d, want %d", id, prev+2)
	}
}

func TestTable_TypedGet(t *testing.T) {
	table := NewTable()
	id := table.Add(&fakeFile{path: "/tmp/x", fd: 3})

	ref, err := Get[*fakeFile](table, id)
	if err != nil {
		t.Fatalf("typed Get failed: %v", err)
	}
	if ref.Get().path != "/tmp/x" {
		t.Fatalf("wrong file: %s", ref.Get().path)
	}
	ref.Release()

	// Wrong type: must fail without panicking, and the guest-visible class
	// is a bad resource id.
	_, err = Get[*closeCounter](table, id)
	if err == nil {
		t.Fatal("wrong-type Get should fail")
	}
	if errors.Canonical(err) != errors.KindBadResourceID {
		t.Fatalf("Canonical = %v, want bad_resource_id", errors.Canonical(err))
	}

	// Absent id.
	_, err = Get[*fakeFile](table, 999)
	if errors.Canonical(err) != errors.KindBadResourceID {
		t.Fatalf("absent id Canonical = %v, want bad_resource_id", errors.Canonical(err))
	}
}

func TestTable_TypedTake(t *testing.T) {
	table := NewTable()
	id := table.Add(&fakeFile{fd: 4})

	// Type mismatch leaves the entry in place.
	if _, err := Take[*closeCounter](table, id); err == nil {
		t.Fatal("wrong-type Take should fail")
	}
	if !table.Has(id) {
		t.Fatal("entry should survive a mismatched Take")
	}

	ref, err := Take[*fakeFile](table, id)
	if err != nil {
		t.Fatalf("typed Take failed: %v", err)
	}
	if table.Has(id) {
		t.Fatal("entry should be gone after Take")
	}
	ref.Release()
}

func TestTable_SharedOwnership(t *testing.T) {
	table := NewTable()
	res := &closeCounter{}
	id := table.Add(res)

	ref, err := table.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	clone := ref.Clone()
	ref.Release()

	// Taking the id removes the table's reference but the clone keeps the
	// resource alive.
	taken, err := table.Take(id)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	taken.Release()
	if res.count != 0 {
		t.Fatalf("closed %d times with a live clone, want 0", res.count)
	}

	clone.Release()
	if res.count != 1 {
		t.Fatalf("closed %d times after last release, want exactly 1", res.count)
	}
}

func TestTable_AddRef(t *testing.T) {
	table := NewTable()
	res := &closeCounter{}
	id1 := table.Add(res)

	ref, err := table.Get(id1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	id2 := AddRef(table, ref)
	ref.Release()

	if id2 <= id1 {
		t.Fatalf("aliased id %d should be fresh, got original %d", id2, id1)
	}
	if table.Len() != 2 {
		t.Fatalf("Len = %d, want 2", table.Len())
	}

	// Releasing one id keeps the resource open through the other.
	r1, _ := table.Take(id1)
	r1.Release()
	if res.count != 0 {
		t.Fatalf("closed with a live alias, count %d", res.count)
	}

	r2, _ := table.Take(id2)
	r2.Release()
	if res.count != 1 {
		t.Fatalf("closed %d times, want exactly 1", res.count)
	}
}

func TestTable_Replace(t *testing.T) {
	table := NewTable()
	old := &closeCounter{}
	id := table.Add(old)

	next := &closeCounter{}
	table.Replace(id, next)

	if old.count != 1 {
		t.Fatalf("replaced resource closed %d times, want 1", old.count)
	}
	ref, err := table.Get(id)
	if err != nil {
		t.Fatalf("Get after Replace failed: %v", err)
	}
	if ref.Get() != Resource(next) {
		t.Fatal("Get did not return the replacement")
	}
	ref.Release()
}

func TestTable_ReplaceAbsentPanics(t *testing.T) {
	table := NewTable()

	defer func() {
		if recover() == nil {
			t.Fatal("Replace of absent id should panic")
		}
	}()
	table.Replace(42, &closeCounter{})
}

func TestTable_TwoResourcesScenario(t *testing.T) {
	table := NewTable()
	a := &closeCounter{}
	b := &closeCounter{}

	ida := table.Add(a)
	idb := table.Add(b)
	if table.Len() != 2 {
		t.Fatalf("Len = %d, want 2", table.Len())
	}

	for _, id := range []ID{ida, idb} {
		ref, err := table.Take(id)
		if err != nil {
			t.Fatalf("Take(%d) failed: %v", id, err)
		}
		ref.Release()
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d, want 0", table.Len())
	}
	if a.count != 1 || b.count != 1 {
		t.Fatalf("close counts = %d/%d, want 1/1", a.count, b.count)
	}
}

func TestTable_NamesAndEach(t *testing.T) {
	table := NewTable()
	id1 := table.Add(&closeCounter{})
	id2 := table.Add(&fakeFile{})

	names := table.Names()
	if len(names) != 2 {
		t.Fatalf("Names returned %d entries, want 2", len(names))
	}
	if names[id1] != "closeCounter" || names[id2] != "fakeFile" {
		t.Fatalf("Names = %v", names)
	}

	var order []ID
	table.Each(func(id ID, r Resource) bool {
		order = append(order, id)
		return true
	})
	if len(order) != 2 || order[0] != id1 || order[1] != id2 {
		t.Fatalf("Each order = %v, want [%d %d]", order, id1, id2)
	}

	// Early stop.
	calls := 0
	table.Each(func(ID, Resource) bool {
		calls++
		return false
	})
	if calls != 1 {
		t.Fatalf("Each after false = %d calls, want 1", calls)
	}
}

func TestTable_Clear(t *testing.T) {
	table := NewTable()
	a := &closeCounter{}
	b := &closeCounter{}
	table.Add(a)
	id := table.Add(b)

	// A clone held elsewhere survives Clear.
	ref, _ := table.Get(id)

	table.Clear()
	if table.Len() != 0 {
		t.Fatalf("Len = %d after Clear, want 0", table.Len())
	}
	if a.count != 1 {
		t.Fatalf("unreferenced resource closed %d times, want 1", a.count)
	}
	if b.count != 0 {
		t.Fatal("cloned resource closed by Clear")
	}

	ref.Release()
	if b.count != 1 {
		t.Fatalf("cloned resource closed %d times after release, want 1", b.count)
	}
}

func TestTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	id := table.Add(&closeCounter{})
	if len(obs.events) != 1 || obs.events[0].Type != EventAdded || obs.events[0].ID != id {
		t.Fatalf("events after Add = %+v", obs.events)
	}

	ref, _ := table.Take(id)
	ref.Release()
	if len(obs.events) != 2 || obs.events[1].Type != EventRemoved {
		t.Fatalf("events after Take = %+v", obs.events)
	}

	table.Unsubscribe(obs)
	table.Add(&closeCounter{})
	if len(obs.events) != 2 {
		t.Fatal("should not receive events after Unsubscribe")
	}
}

func TestTable_GetFD(t *testing.T) {
	table := NewTable()
	id := table.Add(&fakeFile{fd: 7})

	fd, err := table.GetFD(id)
	if err != nil {
		t.Fatalf("GetFD failed: %v", err)
	}
	if fd != 7 {
		t.Fatalf("fd = %d, want 7", fd)
	}

	// Resources without a descriptor fail with the same class as absent ids.
	other := table.Add(&closeCounter{})
	if _, err := table.GetFD(other); errors.Canonical(err) != errors.KindBadResourceID {
		t.Fatalf("GetFD on non-fd resource = %v", err)
	}
	if _, err := table.GetFD(999); errors.Canonical(err) != errors.KindBadResourceID {
		t.Fatalf("GetFD on absent id = %v", err)
	}

	// An invalidated descriptor is reported, not returned.
	f := &fakeFile{fd: 8}
	fid := table.Add(f)
	f.closed = true
	if _, err := table.GetFD(fid); err == nil {
		t.Fatal("GetFD should fail once the descriptor is invalidated")
	}
}

func TestTable_ErrorText(t *testing.T) {
	table := NewTable()
	_, err := table.Get(5)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rid 5") {
		t.Fatalf("error %q should name the id", err.Error())
	}
}
