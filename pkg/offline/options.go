package offline

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/trust"
)

const (
	// DefaultMaxAge bounds how old an issued payload may be.
	DefaultMaxAge = 8760 * time.Hour
	// DefaultMaxSkew is the tolerated clock skew for issued_at in the future.
	DefaultMaxSkew = 5 * time.Minute
)

// Option configures a Packager or a Verifier.
type Option func(*settings)

type settings struct {
	secret    []byte
	baseURL   string
	engine    *trust.Engine
	directory identity.Directory
	maxAge    time.Duration
	maxSkew   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// WithSecret sets the deployment secret the tamper key is derived from.
func WithSecret(secret []byte) Option {
	return func(s *settings) { s.secret = secret }
}

// WithVerificationBaseURL sets the prefix of the verification_url field.
func WithVerificationBaseURL(u string) Option {
	return func(s *settings) { s.baseURL = strings.TrimRight(u, "/") }
}

func WithEngine(e *trust.Engine) Option {
	return func(s *settings) { s.engine = e }
}

// WithDirectory lets the verifier confirm key ownership when a directory is
// reachable. Offline verification leaves it unset.
func WithDirectory(d identity.Directory) Option {
	return func(s *settings) { s.directory = d }
}

// WithTimestampPolicy sets the maximum payload age and future skew.
func WithTimestampPolicy(maxAge, maxSkew time.Duration) Option {
	return func(s *settings) {
		s.maxAge = maxAge
		s.maxSkew = maxSkew
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func applyOptions(opts []Option) settings {
	s := settings{
		maxAge:  DefaultMaxAge,
		maxSkew: DefaultMaxSkew,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
