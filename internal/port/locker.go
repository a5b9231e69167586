package port

import (
	"context"
	"time"
)

type Locker interface {
	// TryLock obtains key for ttl without waiting. ok is false when another holder has it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
