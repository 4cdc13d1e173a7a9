package ports

import "time"

// Clock is the single time source for cache expiry and refresh timing.
type Clock interface {
	Now() time.Time
}
