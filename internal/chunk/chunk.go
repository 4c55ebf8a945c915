package chunk

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for a size/overlap pair that cannot make progress.
var ErrInvalidArgument = errors.New("invalid argument")

// Chunk splits items into windows of at most size elements where each window
// starts with the last overlap elements of the one before it. Windows stop
// as soon as one reaches the end of items, so a trailing window always holds
// at least overlap+1 elements and a tail shorter than overlap is never
// emitted on its own. Returned windows share the backing array of items.
func Chunk[T any](items []T, size, overlap int) ([][]T, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidArgument, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidArgument, overlap, size)
	}
	if len(items) == 0 {
		return nil, nil
	}

	step := size - overlap
	var out [][]T
	for start := 0; ; start += step {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
		if end == len(items) {
			break
		}
	}
	return out, nil
}

// Count returns how many windows Chunk would produce without building them.
func Count(n, size, overlap int) (int, error) {
	if size < 1 || overlap < 0 || overlap >= size {
		return 0, fmt.Errorf("%w: size %d overlap %d", ErrInvalidArgument, size, overlap)
	}
	if n <= 0 {
		return 0, nil
	}
	if n <= size {
		return 1, nil
	}
	step := size - overlap
	return 1 + (n-size+step-1)/step, nil
}
