// Package trust turns per-method verification outcomes into a verification
// level, a bounded trust score and a court-admissibility flag.
package trust

import (
	"errors"
	"fmt"
	"math"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
)

// State is the outcome of one verification method.
type State string

const (
	NotRequested State = "not_requested"
	Pending      State = "pending"
	Valid        State = "valid"
	Invalid      State = "invalid"
)

// Confirmation qualifies a valid anchor.
type Confirmation string

const (
	NetworkConfirmed       Confirmation = "network_confirmed"
	StructurallyConsistent Confirmation = "structurally_consistent"
)

// Status is the tagged outcome of one method. A method that was never asked
// for is NotRequested, never Invalid.
type Status struct {
	State        State        `json:"state"`
	Reason       string       `json:"reason,omitempty"`
	ErrorKind    string       `json:"error_kind,omitempty"`
	Confirmation Confirmation `json:"confirmation,omitempty"`
}

func NotRequestedStatus() Status { return Status{State: NotRequested} }

func PendingStatus(reason string) Status { return Status{State: Pending, Reason: reason} }

func ValidStatus() Status { return Status{State: Valid} }

// ConfirmedStatus is a valid anchor qualified by how it was confirmed.
func ConfirmedStatus(c Confirmation) Status { return Status{State: Valid, Confirmation: c} }

func InvalidStatus(reason, kind string) Status {
	return Status{State: Invalid, Reason: reason, ErrorKind: kind}
}

// FailedStatus is the Invalid status for err, with its error kind.
func FailedStatus(err error) Status {
	return InvalidStatus(err.Error(), apperrors.Kind(err))
}

func (s Status) Valid() bool { return s.State == Valid }

// Attempted reports whether the method was requested at all.
func (s Status) Attempted() bool { return s.State != NotRequested && s.State != "" }

// Method names a verification method.
type Method string

const (
	MethodPrimaryAnchor   Method = "primary_anchor"
	MethodSecondaryAnchor Method = "secondary_anchor"
	MethodProof           Method = "zk_proof"
	MethodSignature       Method = "sovereign_signature"
	MethodConsensus       Method = "cross_chain_consensus"
)

// Evidence is everything the engine classifies.
type Evidence struct {
	PrimaryAnchor        Status `json:"primary_anchor"`
	SecondaryAnchor      Status `json:"secondary_anchor"`
	Proof                Status `json:"zk_proof"`
	Signature            Status `json:"sovereign_signature"`
	Consensus            Status `json:"cross_chain_consensus"`
	TimestampValid       bool   `json:"timestamp_valid"`
	TamperSignatureValid bool   `json:"tamper_signature_valid"`
}

// AnchorValid reports whether either anchor is valid.
func (e Evidence) AnchorValid() bool {
	return e.PrimaryAnchor.Valid() || e.SecondaryAnchor.Valid()
}

// Invalidated returns e with every attempted method marked Invalid. Used when
// the evidence container itself cannot be trusted.
func (e Evidence) Invalidated(reason, kind string) Evidence {
	out := e
	for _, s := range []*Status{&out.PrimaryAnchor, &out.SecondaryAnchor, &out.Proof, &out.Signature, &out.Consensus} {
		if s.Attempted() {
			*s = InvalidStatus(reason, kind)
		}
	}
	return out
}

// Level is the verification level.
type Level string

const (
	LevelBasic     Level = "basic"
	LevelEnhanced  Level = "enhanced"
	LevelSovereign Level = "sovereign"
)

// Classification is the engine's verdict.
type Classification struct {
	Level           Level `json:"verification_level"`
	TrustScore      int   `json:"trust_score"`
	CourtAdmissible bool  `json:"court_admissible"`
}

// MaxScore bounds the trust score.
const MaxScore = 100

var ErrNegativeWeight = errors.New("trust weights must be non-negative")

// Weights are the score contribution of each valid method.
type Weights struct {
	PrimaryAnchor   float64 `mapstructure:"primary_anchor" yaml:"primary_anchor" json:"primary_anchor" default:"30"`
	SecondaryAnchor float64 `mapstructure:"secondary_anchor" yaml:"secondary_anchor" json:"secondary_anchor" default:"30"`
	Proof           float64 `mapstructure:"proof" yaml:"proof" json:"proof" default:"20"`
	Signature       float64 `mapstructure:"signature" yaml:"signature" json:"signature" default:"15"`
	Consensus       float64 `mapstructure:"consensus" yaml:"consensus" json:"consensus" default:"5"`
}

func DefaultWeights() Weights {
	return Weights{PrimaryAnchor: 30, SecondaryAnchor: 30, Proof: 20, Signature: 15, Consensus: 5}
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"primary_anchor":   w.PrimaryAnchor,
		"secondary_anchor": w.SecondaryAnchor,
		"proof":            w.Proof,
		"signature":        w.Signature,
		"consensus":        w.Consensus,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrNegativeWeight, name, v)
		}
	}
	return nil
}

// Engine classifies evidence. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	weights    Weights
	admissible bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithAdmissibilityPolicy sets the configured admissibility policy. When false
// nothing is ever court admissible.
func WithAdmissibilityPolicy(enabled bool) Option {
	return func(e *Engine) { e.admissible = enabled }
}

func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{weights: DefaultWeights(), admissible: true}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if err := e.weights.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Classify is a pure function of ev.
func (e *Engine) Classify(ev Evidence) Classification {
	return Classification{
		Level:           level(ev),
		TrustScore:      e.score(ev),
		CourtAdmissible: e.courtAdmissible(ev),
	}
}

func level(ev Evidence) Level {
	switch {
	case ev.Signature.Valid() && ev.Proof.Valid():
		return LevelSovereign
	case ev.Consensus.Valid(), ev.AnchorValid() && (ev.Proof.Valid() || ev.Signature.Valid()):
		return LevelEnhanced
	default:
		return LevelBasic
	}
}

func (e *Engine) score(ev Evidence) int {
	var sum float64
	add := func(s Status, w float64) {
		if s.Valid() {
			sum += w
		}
	}
	add(ev.PrimaryAnchor, e.weights.PrimaryAnchor)
	add(ev.SecondaryAnchor, e.weights.SecondaryAnchor)
	add(ev.Proof, e.weights.Proof)
	add(ev.Signature, e.weights.Signature)
	add(ev.Consensus, e.weights.Consensus)

	return int(math.Min(MaxScore, math.Max(0, math.Round(sum))))
}

func (e *Engine) courtAdmissible(ev Evidence) bool {
	return e.admissible &&
		(ev.AnchorValid() || ev.Proof.Valid() || ev.Signature.Valid()) &&
		ev.TimestampValid &&
		ev.TamperSignatureValid
}

// MethodResult is one line of a verification report.
type MethodResult struct {
	Method Method `json:"method"`
	Status
}

// MethodReport lists every method with its outcome, in a fixed order.
func MethodReport(ev Evidence) []MethodResult {
	return []MethodResult{
		{Method: MethodPrimaryAnchor, Status: ev.PrimaryAnchor},
		{Method: MethodSecondaryAnchor, Status: ev.SecondaryAnchor},
		{Method: MethodProof, Status: ev.Proof},
		{Method: MethodSignature, Status: ev.Signature},
		{Method: MethodConsensus, Status: ev.Consensus},
	}
}

// Summarize splits a report into attempted, succeeded and failed methods.
func Summarize(report []MethodResult) (attempted, succeeded, failed []Method) {
	for _, r := range report {
		if !r.Attempted() {
			continue
		}
		attempted = append(attempted, r.Method)
		switch r.State {
		case Valid:
			succeeded = append(succeeded, r.Method)
		case Invalid:
			failed = append(failed, r.Method)
		}
	}
	return attempted, succeeded, failed
}
