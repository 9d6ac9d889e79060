package fingerprint

import "time"

type settings struct {
	algorithm Algorithm
	maxBytes  int64
	now       func() time.Time
}

// Option configures a Fingerprinter.
type Option func(*settings)

// WithAlgorithm selects the digest function.
func WithAlgorithm(a Algorithm) Option {
	return func(s *settings) {
		if a != "" {
			s.algorithm = a
		}
	}
}

// WithMaxContentBytes sets the size ceiling. Zero or negative disables it.
func WithMaxContentBytes(n int64) Option {
	return func(s *settings) { s.maxBytes = n }
}

// WithClock overrides the CreatedAt source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func applyOptions(opts []Option) settings {
	s := settings{
		algorithm: SHA256,
		maxBytes:  DefaultMaxContentBytes,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
