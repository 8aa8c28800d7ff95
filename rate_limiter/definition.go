package rate_limiter

import (
	"fmt"
	"strings"

	"golang.org/x/time/rate"
)

// Definition configures an APILimiter
type Definition struct {
	Name string
	// requests per second, and burst
	FillRate   rate.Limit
	BucketSize int
	// the max in-flight requests, 0 for no limit
	MaxConcurrency int64
}

// NotificationDefinition paces notices so a burst of matching log lines cannot trip the service's own rate limit
func NotificationDefinition() *Definition {
	return &Definition{
		Name:           "notifications",
		FillRate:       5,
		BucketSize:     10,
		MaxConcurrency: 1,
	}
}

func (d *Definition) String() string {
	var parts []string
	if d.FillRate > 0 {
		parts = append(parts, fmt.Sprintf("Limit(/s): %v, Burst: %d", d.FillRate, d.BucketSize))
	}
	if d.MaxConcurrency > 0 {
		parts = append(parts, fmt.Sprintf("MaxConcurrency: %d", d.MaxConcurrency))
	}
	return strings.Join(parts, " ")
}

func (d *Definition) Validate() error {
	var validationErrors []string
	if d.Name == "" {
		validationErrors = append(validationErrors, "rate limiter definition must specify a name")
	}
	if (d.FillRate <= 0 || d.BucketSize <= 0) && d.MaxConcurrency <= 0 {
		validationErrors = append(validationErrors, "rate limiter definition must define either a rate limit or max concurrency")
	}
	if len(validationErrors) > 0 {
		return fmt.Errorf("invalid rate limiter: %s", strings.Join(validationErrors, ", "))
	}
	return nil
}
