package gateway

import (
	"context"
	"sync"
)

// CallService is Call for operations that produce a value. fallback may be
// nil; when it runs its value is returned.
func CallService[T any](
	ctx context.Context,
	g *Gateway,
	name string,
	op func(ctx context.Context, serviceURL string) (T, error),
	fallback func(ctx context.Context) (T, error),
	opts ...CallOption,
) (T, error) {
	var (
		mutex  sync.Mutex
		result T
	)

	// store keeps v unless ctx already ended. A late value is reported as the
	// context error so the call never succeeds without a result.
	store := func(ctx context.Context, v T) error {
		mutex.Lock()
		defer mutex.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		result = v
		return nil
	}

	wrapped := func(ctx context.Context, serviceURL string) error {
		v, err := op(ctx, serviceURL)
		if err != nil {
			return err
		}
		return store(ctx, v)
	}

	if fallback != nil {
		opts = append(opts, WithFallback(func(ctx context.Context) error {
			v, err := fallback(ctx)
			if err != nil {
				return err
			}
			return store(ctx, v)
		}))
	}

	if err := g.Call(ctx, name, wrapped, opts...); err != nil {
		var zero T
		return zero, err
	}

	mutex.Lock()
	defer mutex.Unlock()
	return result, nil
}
