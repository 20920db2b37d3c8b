package store

import "iter"

// Empty returns a sequence that yields nothing.
func Empty[T any]() iter.Seq2[T, error] {
	return func(func(T, error) bool) {}
}

// Fail returns a sequence that yields err once and stops.
func Fail[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// Collect drains seq, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var list []T
	for v, err := range seq {
		if err != nil {
			return list, err
		}
		list = append(list, v)
	}
	return list, nil
}

// First returns the first element of seq and stops the iteration there.
func First[T any](seq iter.Seq2[T, error]) (T, bool, error) {
	for v, err := range seq {
		if err != nil {
			var zero T
			return zero, false, err
		}
		return v, true, nil
	}
	var zero T
	return zero, false, nil
}
