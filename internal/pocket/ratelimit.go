package pocket

import (
	"os"
	"strconv"

	"golang.org/x/time/rate"
)

// newLimiter creates a rate limiter using env overrides if present.
// A non-positive rps disables limiting.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if v := os.Getenv("POCKET_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv("POCKET_API_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
