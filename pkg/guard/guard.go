// Package guard verifies an entered password against the stored secret and
// enforces the failed-attempt lockout.
//
// A Guard starts in StateReady. A correct password moves it to the terminal
// StateUnlocked. After MaxAttempts consecutive wrong passwords it moves to
// StateLockedOut for the cooldown period, during which every attempt is
// rejected without being evaluated. The lockout is a deadline, not a sleep:
// it is evaluated lazily whenever the guard is consulted, so Verify never
// blocks. Callers that want to wait use WaitCooldown.
//
// Every Verify call, except calls after the guard is already unlocked,
// produces exactly one record through the Recorder.
package guard

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/devlock/pkg/crypto"
)

const (
	// DefaultMaxAttempts is the number of consecutive failures that triggers lockout.
	DefaultMaxAttempts = 3

	// DefaultCooldown is how long a lockout lasts.
	DefaultCooldown = 5 * time.Second
)

// Errors
var (
	// ErrFault is wrapped by every Result.Err of a Fault outcome.
	ErrFault = errors.New("guard: verification fault")

	// ErrAlreadyUnlocked is returned when Verify is called after a successful unlock.
	ErrAlreadyUnlocked = errors.New("guard: already unlocked")
)

// KeySource loads the installation key. It must not create a missing key.
type KeySource interface {
	Load() ([]byte, error)
}

// SecretSource loads the encrypted secret blob.
type SecretSource interface {
	Load() (string, error)
}

// Recorder persists one record per verification attempt.
type Recorder interface {
	LogSuccess() error
	LogFailure(entered string) error
}

// State of the guard.
type State int

const (
	// StateReady accepts attempts.
	StateReady State = iota
	// StateLockedOut rejects attempts until the cooldown elapses.
	StateLockedOut
	// StateUnlocked is reached after a correct password.
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateLockedOut:
		return "locked_out"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Outcome of a verification.
type Outcome int

const (
	// Granted means the password matched.
	Granted Outcome = iota
	// Denied means the attempt was rejected; see Reason.
	Denied
	// Fault means verification could not be performed; see Err.
	Fault
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Reason qualifies a Denied outcome.
type Reason int

const (
	// ReasonNone is used for outcomes other than Denied.
	ReasonNone Reason = iota
	// ReasonIncorrectPassword means the password did not match.
	ReasonIncorrectPassword
	// ReasonTooManyAttempts means the guard is locked out.
	ReasonTooManyAttempts
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonIncorrectPassword:
		return "incorrect_password"
	case ReasonTooManyAttempts:
		return "too_many_attempts"
	default:
		return "unknown"
	}
}

// Result is the verdict of a single Verify call.
type Result struct {
	Outcome    Outcome
	Reason     Reason        // set when Outcome is Denied
	RetryAfter time.Duration // set when Reason is ReasonTooManyAttempts
	Err        error         // set when Outcome is Fault; wraps ErrFault
}

// Status is a snapshot of the guard state.
type Status struct {
	State          State         `json:"state"`
	FailedAttempts int           `json:"failed_attempts"`
	LockedOut      bool          `json:"locked_out"`
	Remaining      time.Duration `json:"remaining"`
}

// Guard holds the attempt counter and lockout deadline for one lock session.
// It is safe for concurrent use.
type Guard struct {
	keys     KeySource
	secrets  SecretSource
	recorder Recorder

	maxAttempts int
	cooldown    time.Duration
	now         func() time.Time
	logger      *slog.Logger
	normalize   bool

	mu             sync.Mutex
	state          State
	failedAttempts int
	lockedUntil    time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithMaxAttempts sets the lockout threshold. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(g *Guard) {
		if n >= 1 {
			g.maxAttempts = n
		}
	}
}

// WithCooldown sets the lockout duration. Negative values are ignored.
func WithCooldown(d time.Duration) Option {
	return func(g *Guard) {
		if d >= 0 {
			g.cooldown = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the logger for verification events.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithUnicodeNormalization compares NFC forms of the candidate and the
// secret, so visually identical input typed through different input
// methods matches.
func WithUnicodeNormalization(enabled bool) Option {
	return func(g *Guard) {
		g.normalize = enabled
	}
}

// New creates a Guard in StateReady.
func New(keys KeySource, secrets SecretSource, recorder Recorder, opts ...Option) *Guard {
	g := &Guard{
		keys:        keys,
		secrets:     secrets,
		recorder:    recorder,
		maxAttempts: DefaultMaxAttempts,
		cooldown:    DefaultCooldown,
		now:         time.Now,
		logger:      slog.Default(),
		state:       StateReady,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Verify checks candidate against the stored secret.
func (g *Guard) Verify(candidate string) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.expireLockout(now)

	switch g.state {
	case StateUnlocked:
		res := Result{Outcome: Fault, Err: fmt.Errorf("%w: %w", ErrFault, ErrAlreadyUnlocked)}
		g.logger.Warn("verify called on unlocked guard")
		return res
	case StateLockedOut:
		g.recordFailure(candidate)
		res := Result{
			Outcome:    Denied,
			Reason:     ReasonTooManyAttempts,
			RetryAfter: g.lockedUntil.Sub(now),
		}
		g.logResult(res)
		return res
	}

	plaintext, err := g.decrypt()
	if err != nil {
		g.recordFailure(candidate)
		res := Result{Outcome: Fault, Err: fmt.Errorf("%w: %w", ErrFault, err)}
		g.logResult(res)
		return res
	}
	match := g.matches(candidate, plaintext)
	crypto.SecureWipe(plaintext)

	if match {
		if err := g.recorder.LogSuccess(); err != nil {
			g.logger.Warn("failed to record attempt", "outcome", "success", "error", err)
		}
		g.failedAttempts = 0
		g.state = StateUnlocked
		res := Result{Outcome: Granted}
		g.logResult(res)
		return res
	}

	g.recordFailure(candidate)
	g.failedAttempts++

	if g.failedAttempts < g.maxAttempts {
		res := Result{Outcome: Denied, Reason: ReasonIncorrectPassword}
		g.logResult(res)
		return res
	}

	g.state = StateLockedOut
	g.lockedUntil = now.Add(g.cooldown)
	res := Result{
		Outcome:    Denied,
		Reason:     ReasonTooManyAttempts,
		RetryAfter: g.cooldown,
	}
	g.logResult(res)
	return res
}

// Status returns a snapshot of the guard, expiring an elapsed lockout first.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.expireLockout(now)

	s := Status{
		State:          g.state,
		FailedAttempts: g.failedAttempts,
		LockedOut:      g.state == StateLockedOut,
	}
	if s.LockedOut {
		s.Remaining = g.lockedUntil.Sub(now)
	}
	return s
}

// IsLockedOut reports whether attempts are currently being rejected.
func (g *Guard) IsLockedOut() bool {
	return g.Status().LockedOut
}

// TimeRemaining returns how long the current lockout lasts, or 0.
func (g *Guard) TimeRemaining() time.Duration {
	return g.Status().Remaining
}

// WaitCooldown blocks until the current lockout has elapsed or ctx is done.
// It returns immediately when the guard is not locked out.
func (g *Guard) WaitCooldown(ctx context.Context) error {
	for {
		remaining := g.TimeRemaining()
		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Lock re-arms an unlocked guard. It has no effect in any other state, so
// it cannot be used to cut a lockout short.
func (g *Guard) Lock() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateUnlocked {
		return
	}
	g.state = StateReady
	g.failedAttempts = 0
	g.lockedUntil = time.Time{}
	g.logger.Info("guard locked")
}

// CheckIntegrity decrypts the stored secret without comparing or recording
// anything. A nil error means Verify can reach a Granted or Denied verdict.
func (g *Guard) CheckIntegrity() error {
	plaintext, err := g.decrypt()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFault, err)
	}
	crypto.SecureWipe(plaintext)
	return nil
}

// expireLockout returns to StateReady once the lockout deadline has passed.
// Caller must hold g.mu.
func (g *Guard) expireLockout(now time.Time) {
	if g.state != StateLockedOut || now.Before(g.lockedUntil) {
		return
	}
	g.state = StateReady
	g.failedAttempts = 0
	g.lockedUntil = time.Time{}
	g.logger.Debug("lockout expired")
}

func (g *Guard) decrypt() ([]byte, error) {
	master, err := g.keys.Load()
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(master)

	blob, err := g.secrets.Load()
	if err != nil {
		return nil, err
	}

	key, err := crypto.DeriveSubkey(master, crypto.SecretKeyInfo)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)

	return crypto.OpenString(key, blob)
}

func (g *Guard) matches(candidate string, secret []byte) bool {
	if !g.normalize {
		return subtle.ConstantTimeCompare([]byte(candidate), secret) == 1
	}

	normalized := norm.NFC.Bytes(secret)
	defer crypto.SecureWipe(normalized)
	return subtle.ConstantTimeCompare(norm.NFC.Bytes([]byte(candidate)), normalized) == 1
}

// recordFailure writes a FAILURE record. A logging failure never changes
// the verdict.
func (g *Guard) recordFailure(candidate string) {
	if err := g.recorder.LogFailure(candidate); err != nil {
		g.logger.Warn("failed to record attempt", "outcome", "failure", "error", err)
	}
}

func (g *Guard) logResult(res Result) {
	attrs := []any{
		"outcome", res.Outcome.String(),
		"failed_attempts", g.failedAttempts,
	}
	switch res.Outcome {
	case Denied:
		attrs = append(attrs, "reason", res.Reason.String())
		if res.Reason == ReasonTooManyAttempts {
			attrs = append(attrs, "retry_after", res.RetryAfter)
		}
		g.logger.Info("verification denied", attrs...)
	case Fault:
		attrs = append(attrs, "error", res.Err)
		g.logger.Error("verification fault", attrs...)
	default:
		g.logger.Info("verification granted", attrs...)
	}
}
