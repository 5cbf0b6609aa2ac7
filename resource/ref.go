package resource

import "sync/atomic"

// cell is the shared-ownership core of one resource. The table entry and any
// number of caller refs all point at the same cell; the resource closes when
// the count reaches zero.
type cell struct {
	res  Resource
	refs atomic.Int32
}

func newCell(res Resource) *cell {
	c := &cell{res: res}
	c.refs.Store(1)
	return c
}

func (c *cell) retain() {
	c.refs.Add(1)
}

// release drops one reference and closes the resource when it was the last.
func (c *cell) release() {
	n := c.refs.Add(-1)
	if n == 0 {
		c.res.Close()
		return
	}
	if n < 0 {
		panic("resource: release of already-closed cell")
	}
}

// Ref is a counted reference to a resource of type T. Each Ref must be
// released exactly once; Clone hands out further references. Using a Ref
// after Release panics: that is a caller bug, not a runtime condition.
type Ref[T Resource] struct {
	c   *cell
	res T
}

func newRef[T Resource](c *cell, res T) *Ref[T] {
	return &Ref[T]{c: c, res: res}
}

// Get returns the referenced resource.
func (r *Ref[T]) Get() T {
	if r.c == nil {
		panic("resource: use of released ref")
	}
	return r.res
}

// Clone returns an additional reference to the same resource.
func (r *Ref[T]) Clone() *Ref[T] {
	if r.c == nil {
		panic("resource: clone of released ref")
	}
	r.c.retain()
	return &Ref[T]{c: r.c, res: r.res}
}

// Release drops this reference. The resource closes once the last reference,
// whether a table entry or a clone, is gone.
func (r *Ref[T]) Release() {
	if r.c == nil {
		panic("resource: double release of ref")
	}
	c := r.c
	r.c = nil
	var zero T
	r.res = zero
	c.release()
}

// Erase converts a typed ref into its type-erased form without touching the
// reference count. The receiver is consumed.
func Erase[T Resource](r *Ref[T]) *Ref[Resource] {
	if r.c == nil {
		panic("resource: erase of released ref")
	}
	c, res := r.c, Resource(r.res)
	r.c = nil
	var zero T
	r.res = zero
	return &Ref[Resource]{c: c, res: res}
}
