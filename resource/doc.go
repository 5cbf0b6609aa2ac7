// Package resource provides the id table for host objects exposed to script.
//
// Resources are host-side values addressable from script by a small integer
// id. This package implements the registry that owns those ids and the
// shared-ownership references behind them.
//
// # Ids
//
// Ids are assigned monotonically starting at 1 and never reused while the
// table lives. A stale id held by script can therefore only fail lookups; it
// can never alias a newer resource:
//
//	table := resource.NewTable()
//
//	id := table.Add(file)       // 1
//	ref, _ := table.Take(id)    // removed
//	id2 := table.Add(other)     // 2, never 1 again
//
// # Shared Ownership
//
// The table holds one reference per entry; callers clone more. A resource's
// Close runs exactly once, when the last reference is released, so closing
// an id does not cancel async work still holding a clone:
//
//	ref, err := resource.Get[*TCPStream](table, id)
//	if err != nil {
//	    return err
//	}
//	clone := ref.Clone()       // handed to a background task
//	ref.Release()              // stream still open: clone remains
//
// # Typed Access
//
// Get and Take have type-checked forms. A fetch with the wrong type fails
// the same way an absent id does, so guests cannot distinguish the two:
//
//	ref, err := resource.Get[*TCPStream](table, id) // err if id holds a file
//
// # Removal
//
// Take removes the entry and hands the table's reference to the caller; the
// caller finalizes by releasing it. There is deliberately no close-by-id
// shortcut: Close may re-enter the table, and running it from inside a table
// operation invites deadlock. Take first, then release.
//
// # Fast-Path Accessors
//
// GetFD, GetSocket, and GetHandle expose raw OS-level views for embedder hot
// loops. They are best-effort reads: the backing value may be invalidated
// out-of-band, and callers must revalidate before use.
//
// # Leak Diagnostics
//
// Names returns the id and kind of every live entry; test harnesses diff it
// across a unit of work to catch leaked resources.
package resource
