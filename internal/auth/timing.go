package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for the verification duration floor
type TimingConfig struct {
	Floor         time.Duration // Minimum wall time of a guarded operation
	RandomDelayMs int           // Extra jitter in milliseconds added on top of the floor
}

// TimingFloor pads guarded operations so every outcome takes at least the same time
type TimingFloor struct {
	config TimingConfig
	sleep  func(time.Duration)
}

// NewTimingFloor creates a new TimingFloor
func NewTimingFloor(config TimingConfig) *TimingFloor {
	return &TimingFloor{
		config: config,
		sleep:  time.Sleep,
	}
}

// cryptoRandIntn returns a secure random number between 0 and max (exclusive)
func cryptoRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}

	randomValue := binary.BigEndian.Uint64(randomBytes)
	return int(randomValue % uint64(max)), nil
}

func (tf *TimingFloor) target() time.Duration {
	target := tf.config.Floor
	if tf.config.RandomDelayMs > 0 {
		if jitter, err := cryptoRandIntn(tf.config.RandomDelayMs); err == nil {
			target += time.Duration(jitter) * time.Millisecond
		}
	}
	return target
}

// WaitFrom sleeps until at least the floor has elapsed since start
func (tf *TimingFloor) WaitFrom(start time.Time) {
	if tf == nil {
		return
	}
	if remaining := tf.target() - time.Since(start); remaining > 0 {
		tf.sleep(remaining)
	}
}

// Guard starts timing and returns the function that enforces the floor.
// Use as: defer floor.Guard()()
func (tf *TimingFloor) Guard() func() {
	start := time.Now()
	return func() {
		tf.WaitFrom(start)
	}
}
