package scriptruntime

// Value is an engine-owned value handle. Each binding defines the concrete
// representation; the runtime core only moves Values between ops and promises.
type Value any

// PromiseID correlates an async op with the guest promise awaiting it.
type PromiseID uint32

// OpID is the dense index of a registered op in a frozen catalog.
type OpID uint32

// Scope is the engine context required to materialize values. It only exists
// while the binding makes it available, which is why op results carry plain Go
// values and defer conversion until a Scope is on hand.
type Scope interface {
	// WrapValue converts a plain Go value into an engine value.
	WrapValue(v any) (Value, error)
	// WrapError converts an error into the engine's error value. The error's
	// canonical class (bad_resource_id, reference, unavailable, other) must
	// survive the conversion.
	WrapError(err error) Value
}

// PromiseResolver settles guest promises for completed async ops.
type PromiseResolver interface {
	Resolve(id PromiseID, v Value)
	Reject(id PromiseID, v Value)
}
