package connection

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// exponentialBackoffStrategy never gives up: the push channel is expected to recover
// eventually, so only the delay grows.
type exponentialBackoffStrategy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxJitter    time.Duration
	Multiplier   float64
	randSource   *rand.Rand
	mutex        sync.Mutex
}

// NewExponentialBackoffStrategy returns min(initial*2^attempt, max) plus a uniform
// jitter in [0, maxJitter).
func NewExponentialBackoffStrategy(initialDelay, maxDelay, maxJitter time.Duration) ReconnectionStrategy {
	return NewExponentialBackoffStrategyWithSource(initialDelay, maxDelay, maxJitter, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewExponentialBackoffStrategyWithSource is NewExponentialBackoffStrategy with a fixed random source
func NewExponentialBackoffStrategyWithSource(initialDelay, maxDelay, maxJitter time.Duration, source *rand.Rand) ReconnectionStrategy {
	return &exponentialBackoffStrategy{
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		MaxJitter:    maxJitter,
		Multiplier:   2.0,
		randSource:   source,
	}
}

func (ebs *exponentialBackoffStrategy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(ebs.InitialDelay) * math.Pow(ebs.Multiplier, float64(attempt))
	if delay > float64(ebs.MaxDelay) || math.IsInf(delay, 1) {
		delay = float64(ebs.MaxDelay)
	}

	if ebs.MaxJitter > 0 {
		ebs.mutex.Lock()
		jitter := ebs.randSource.Int63n(int64(ebs.MaxJitter))
		ebs.mutex.Unlock()

		delay += float64(jitter)
	}

	return time.Duration(delay)
}
