package collab

import "time"

// SetNowFunc overrides the registry clock for tests and returns a reset.
func SetNowFunc(fn func() time.Time) (reset func()) {
	nowFunc = fn
	return func() { nowFunc = time.Now }
}
