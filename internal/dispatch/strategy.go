package dispatch

import "context"

// Strategy is one partial parser. ok=false hands the text to the next
// strategy; an error stops the chain.
type Strategy[T any] func(ctx context.Context, text string) (T, bool, error)

// FirstMatch runs strategies in order and returns the first match.
func FirstMatch[T any](ctx context.Context, text string, strategies ...Strategy[T]) (T, bool, error) {
	var zero T
	for _, attempt := range strategies {
		v, ok, err := attempt(ctx, text)
		if err != nil {
			return zero, false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return zero, false, nil
}
