package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"labkeeper.org/internal/obs"
	"labkeeper.org/internal/secret"
)

const (
	accountsTable = "accounts"
	secretColumn  = "password_hash"
	secretType    = "text"
)

// Service verifies credentials and migrates legacy secrets on successful login.
type Service struct {
	store  CredentialStore
	schema ColumnEnsurer
	audit  AuditSink
	now    func() time.Time
	encode func(string) (secret.Keyed, error)
	verify func(string, secret.Keyed) bool
}

// decoySecret is verified against when the username is unknown, so a miss
// costs the same key derivation as a wrong password.
var decoySecret = sync.OnceValue(func() secret.Keyed {
	k, err := secret.Encode("decoy")
	if err != nil {
		return secret.Keyed{
			Iterations: secret.Iterations,
			Salt:       make([]byte, secret.SaltSize),
			DerivedKey: make([]byte, secret.KeySize),
		}
	}
	return k
})

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithEncoder replaces secret.Encode; tests use it to simulate entropy failure.
func WithEncoder(fn func(string) (secret.Keyed, error)) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.encode = fn
		}
		return nil
	}
}

// WithVerifier replaces secret.Verify for Keyed secrets.
func WithVerifier(fn func(string, secret.Keyed) bool) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.verify = fn
		}
		return nil
	}
}

// NewService constructs Service. schema and audit may be nil.
func NewService(store CredentialStore, schema ColumnEnsurer, audit AuditSink, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	svc := &Service{
		store:  store,
		schema: schema,
		audit:  audit,
		now:    time.Now,
		encode: secret.Encode,
		verify: secret.Verify,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Authenticate checks password against the stored secret of username.
//
// An unknown username and a wrong password both yield ErrInvalidCredentials.
// Store read failures wrap ErrStoreUnavailable. After a successful legacy
// match the secret is rewritten in the Keyed format; that write and the
// last-login update are best-effort and reported in the Result only.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Result, error) {
	rec, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.verify(password, decoySecret())
			obs.AuthAttempt(obs.AuthOutcomeInvalid)
			return Result{}, ErrInvalidCredentials
		}
		obs.AuthAttempt(obs.AuthOutcomeUnavailable)
		return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	stored := rec.Secret()
	var format secret.Format
	if k, ok := secret.Parse(stored); ok {
		if s.verify(password, k) {
			format = secret.FormatKeyed
		}
	} else {
		// Legacy rows pay one derivation too, like Keyed rows and unknown users.
		s.verify(password, decoySecret())
		format = secret.MatchLegacy(stored, password)
	}
	if format == secret.FormatNone {
		obs.AuthAttempt(obs.AuthOutcomeInvalid)
		return Result{}, ErrInvalidCredentials
	}

	res := Result{Account: rec.Account, Format: format}
	if format.Legacy() {
		res.Migration = s.migrate(ctx, rec, password, format)
	}

	now := s.now().UTC()
	res.LastLogin.Attempted = true
	if err := s.store.TouchLastLogin(ctx, rec.ID, now); err != nil {
		res.LastLogin.Err = err
	} else {
		res.Account.LastLoginAt = &now
	}

	obs.AuthAttempt(obs.AuthOutcomeSuccess)
	return res, nil
}

// migrate rewrites a legacy secret once; failure leaves the account legacy.
func (s *Service) migrate(ctx context.Context, rec AccountRecord, password string, from secret.Format) SideEffect {
	eff := SideEffect{Attempted: true}
	if err := s.writeSecret(ctx, rec.ID, password); err != nil {
		eff.Err = fmt.Errorf("migrate %s secret: %w", from, err)
		obs.PasswordMigration(obs.MigrationFailed)
		return eff
	}
	obs.PasswordMigration(obs.MigrationSucceeded)
	s.record(ctx, Event{
		Actor:       SystemActor,
		Action:      ActionMigratedPassword,
		TargetTable: accountsTable,
		TargetID:    rec.ID,
		Description: fmt.Sprintf("Migrated password for user: %s", rec.Username),
	})
	return eff
}

// SetPassword stores a fresh Keyed secret for accountID on behalf of actor.
func (s *Service) SetPassword(ctx context.Context, actor string, accountID int64, password string) error {
	if accountID <= 0 || password == "" {
		return ErrInvalidInput
	}
	if err := s.writeSecret(ctx, accountID, password); err != nil {
		return err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = SystemActor
	}
	s.record(ctx, Event{
		Actor:       actor,
		Action:      ActionPasswordChanged,
		TargetTable: accountsTable,
		TargetID:    accountID,
		Description: fmt.Sprintf("Changed password for account %d", accountID),
	})
	return nil
}

// UsernameTaken reports whether an account already uses username.
func (s *Service) UsernameTaken(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, ErrInvalidInput
	}
	taken, err := s.store.UsernameTaken(ctx, username)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return taken, nil
}

func (s *Service) writeSecret(ctx context.Context, accountID int64, password string) error {
	k, err := s.encode(password)
	if err != nil {
		return err
	}
	if s.schema != nil {
		if err := s.schema.EnsureColumn(ctx, accountsTable, secretColumn, secretType); err != nil {
			return err
		}
	}
	if err := s.store.UpdateSecret(ctx, accountID, k.String()); err != nil {
		return fmt.Errorf("update secret: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, ev Event) {
	if s.audit == nil {
		return
	}
	// The sink logs its own failures.
	_ = s.audit.Record(ctx, ev)
}
