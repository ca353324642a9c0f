package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAwaitTimeout is returned when no matching response arrives within the
// await window.
var ErrAwaitTimeout = errors.New("timed out awaiting response")

// AwaitResponse blocks until the first network response satisfying match
// arrives, or until the timeout elapses. The listener is unregistered on
// every exit path so an expired await never fires later.
func AwaitResponse(ctx context.Context, page Page, match func(Response) bool, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hit := make(chan Response, 1)
	unregister := page.OnResponse(func(r Response) {
		if !match(r) {
			return
		}
		select {
		case hit <- r:
		default:
		}
	})
	defer unregister()

	select {
	case r := <-hit:
		return r, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrAwaitTimeout, timeout)
		}
		return nil, ctx.Err()
	}
}
