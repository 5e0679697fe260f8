package dboxmap

// Lookup is the three-way result of a map read: a record was found, the key
// is absent after a refresh, or the underlying index failed. It replaces the
// signed-int/out-parameter convention of the original engine.
type Lookup[T any] struct {
	value   T
	missing bool
	err     error
}

// Found builds a successful Lookup.
func Found[T any](v T) Lookup[T] { return Lookup[T]{value: v} }

// Missing builds a not-found Lookup.
func Missing[T any]() Lookup[T] {
	var zero T
	return Lookup[T]{value: zero, missing: true}
}

// Err builds a failed Lookup.
func Err[T any](err error) Lookup[T] {
	var zero T
	return Lookup[T]{value: zero, err: err}
}

// Get returns the value and true if found, else the zero value and false.
// Callers that need to distinguish missing from error should use Unwrap.
func (l Lookup[T]) Get() (T, bool) { return l.value, l.err == nil && !l.missing }

// IsMissing reports whether the lookup completed successfully but found
// nothing.
func (l Lookup[T]) IsMissing() bool { return l.missing }

// Error returns the underlying error, if the lookup failed.
func (l Lookup[T]) Error() error { return l.err }

// Unwrap returns (value, found, error) in one call.
func (l Lookup[T]) Unwrap() (T, bool, error) {
	return l.value, l.err == nil && !l.missing, l.err
}
