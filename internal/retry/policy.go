// Package retry re-issues remote requests that the service answered with
// "still processing", "rate limited" or "overloaded".
package retry

import (
	"math"
	"net/http"
	"playsync/internal/config"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

type Classification int

const (
	Other Classification = iota
	StillProcessing
	RateLimited
	Overloaded
)

func (c Classification) String() string {
	switch c {
	case StillProcessing:
		return "still_processing"
	case RateLimited:
		return "rate_limited"
	case Overloaded:
		return "overloaded"
	default:
		return "other"
	}
}

// Classify maps a response status onto the policy that handles it.
func Classify(status int) Classification {
	switch status {
	case http.StatusAccepted:
		return StillProcessing
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusServiceUnavailable:
		return Overloaded
	default:
		return Other
	}
}

// Policy hands out wait durations for consecutive attempts until it reports
// stop. It is stateful and must be Reset before each new top-level request.
type Policy struct {
	name    string
	factory func() goretry.Backoff
	current goretry.Backoff
}

func NewPolicy(name string, factory func() goretry.Backoff) *Policy {
	p := &Policy{name: name, factory: factory}
	p.Reset()
	return p
}

func (p *Policy) Name() string { return p.name }

func (p *Policy) Reset() {
	p.current = p.factory()
}

// Next returns the wait before the next attempt, or stop=true once the budget
// is spent.
func (p *Policy) Next() (wait time.Duration, stop bool) {
	return p.current.Next()
}

// NewExponentialPolicy grows the wait by cfg.Multiplier per attempt, randomized
// by cfg.JitterPercent, capped per attempt at cfg.MaxWait and stopping once
// cfg.MaxElapsed has passed since the last Reset.
func NewExponentialPolicy(name string, cfg config.ExponentialConfig) *Policy {
	return NewPolicy(name, func() goretry.Backoff {
		var b goretry.Backoff = growth(cfg.InitialWait, cfg.Multiplier, cfg.MaxWait)
		if cfg.JitterPercent > 0 {
			b = goretry.WithJitterPercent(cfg.JitterPercent, b)
		}
		if cfg.MaxWait > 0 {
			b = goretry.WithCappedDuration(cfg.MaxWait, b)
		}
		if cfg.MaxElapsed > 0 {
			b = goretry.WithMaxDuration(cfg.MaxElapsed, b)
		}
		return b
	})
}

// NewFixedPolicy waits cfg.Wait between attempts and allows cfg.MaxRetries retries.
func NewFixedPolicy(name string, cfg config.FixedConfig) *Policy {
	return NewPolicy(name, func() goretry.Backoff {
		if cfg.Wait <= 0 || cfg.MaxRetries == 0 {
			return stopImmediately
		}
		return goretry.WithMaxRetries(cfg.MaxRetries, goretry.NewConstant(cfg.Wait))
	})
}

var stopImmediately = goretry.BackoffFunc(func() (time.Duration, bool) {
	return 0, true
})

// growth multiplies by a non-integer factor, which go-retry's exponential
// backoff (fixed at 2x) cannot express.
func growth(initial time.Duration, multiplier float64, ceiling time.Duration) goretry.Backoff {
	if initial <= 0 {
		return stopImmediately
	}
	if multiplier < 1 {
		multiplier = 1
	}
	if ceiling <= 0 {
		ceiling = time.Duration(math.MaxInt64)
	}

	next := initial
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		cur := next
		grown := float64(next) * multiplier
		if grown >= float64(ceiling) {
			next = ceiling
		} else {
			next = time.Duration(grown)
		}
		return cur, false
	})
}

// PolicySet holds one policy per retryable classification.
type PolicySet struct {
	StillProcessing *Policy
	RateLimited     *Policy
	Overloaded      *Policy
}

func NewPolicySet(cfg config.RetryConfig) *PolicySet {
	return &PolicySet{
		StillProcessing: NewExponentialPolicy(StillProcessing.String(), cfg.StillProcessing),
		RateLimited:     NewFixedPolicy(RateLimited.String(), cfg.RateLimited),
		Overloaded:      NewFixedPolicy(Overloaded.String(), cfg.Overloaded),
	}
}

func (s *PolicySet) Reset() {
	s.StillProcessing.Reset()
	s.RateLimited.Reset()
	s.Overloaded.Reset()
}

// For returns nil for Other.
func (s *PolicySet) For(c Classification) *Policy {
	switch c {
	case StillProcessing:
		return s.StillProcessing
	case RateLimited:
		return s.RateLimited
	case Overloaded:
		return s.Overloaded
	default:
		return nil
	}
}
