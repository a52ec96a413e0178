package sbcache

import "time"

const (
	defaultUpdateInterval = 30 * time.Minute
	defaultRefreshAfter   = time.Hour
	defaultMaxAge         = 4 * 7 * 24 * time.Hour
	defaultBloomFPRate    = 0.01
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
