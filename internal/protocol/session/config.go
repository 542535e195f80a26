package session

import "time"

// BackoffConfig defines poll backoff behavior while waiting.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines request/response reliability defaults.
type Config struct {
	// RequestTimeout bounds one send_recv when the caller gives no timeout.
	RequestTimeout time.Duration
	// ConnectTimeout bounds the wait for the control connection.
	ConnectTimeout time.Duration
	// WorkerConnectTimeout bounds the wait for each worker connection.
	WorkerConnectTimeout time.Duration
	Backoff              BackoffConfig
}

// DefaultConfig returns the reply-wait defaults: 1ms doubling to a 100ms cap.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:       time.Second,
		ConnectTimeout:       20 * time.Second,
		WorkerConnectTimeout: 5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     100 * time.Millisecond,
			Jitter:       false,
		},
	}
}
