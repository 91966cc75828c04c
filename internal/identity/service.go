package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"

	"github.com/dbz-battle/authapi/internal/apperr"
	"github.com/dbz-battle/authapi/internal/metrics"
	"github.com/dbz-battle/authapi/internal/notification"
)

const maxFieldLength = 255

// Service manages identity lifecycle.
type Service struct {
	repo     Repository
	hasher   *Hasher
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier sets the notifier called after a successful registration.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics records registration and login outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new identity service.
func NewService(repo Repository, hasher *Hasher, opts ...Option) *Service {
	s := &Service{repo: repo, hasher: hasher, logger: slog.New(slog.DiscardHandler), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate runs input rules for a registration.
func (r Registration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, maxFieldLength)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, maxFieldLength), is.Email),
		validation.Field(&r.Password, validation.Required, validation.By(func(value interface{}) error {
			pw, _ := value.(string)
			if err := ValidatePassword(pw); err != nil {
				var appErr *apperr.Error
				if errors.As(err, &appErr) {
					return errors.New(appErr.Message)
				}
				return err
			}
			return nil
		})),
	)
}

// Validate runs input rules for a login.
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required),
		validation.Field(&c.Password, validation.Required),
	)
}

// Register creates a user with a hashed password.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)

	if err := reg.Validate(); err != nil {
		s.metrics.Registration(metrics.OutcomeInvalid)
		return User{}, apperr.Validation(err.Error())
	}

	if _, err := s.repo.FindByUsernameOrEmail(ctx, reg.Username, reg.Email); err == nil {
		s.metrics.Registration(metrics.OutcomeConflict)
		return User{}, apperr.Conflict(ErrConflict.Error())
	} else if !errors.Is(err, ErrNotFound) {
		s.metrics.Registration(metrics.OutcomeError)
		return User{}, apperr.Internal(err)
	}

	hash, err := s.hasher.HashPassword(reg.Password)
	if err != nil {
		s.metrics.Registration(metrics.OutcomeError)
		return User{}, err
	}

	now := s.now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.Registration(metrics.OutcomeConflict)
			return User{}, apperr.Conflict(ErrConflict.Error())
		}
		s.metrics.Registration(metrics.OutcomeError)
		return User{}, apperr.Internal(err)
	}
	s.metrics.Registration(metrics.OutcomeSuccess)

	if s.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindUserRegistered,
			Destination: user.Email,
			Body:        "welcome " + user.Username,
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "registration notification failed", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	return user, nil
}

// Authenticate verifies credentials. Unknown accounts and wrong passwords
// produce the same error; the distinction only reaches the debug log.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if err := creds.Validate(); err != nil {
		s.metrics.Login(metrics.OutcomeInvalid)
		return User{}, apperr.Validation(err.Error())
	}

	user, err := s.repo.FindByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.burn(creds.Password)
			s.logger.DebugContext(ctx, "login rejected", slog.String("reason", "unknown email"))
			s.metrics.Login(metrics.OutcomeInvalidCredentials)
			return User{}, apperr.InvalidCredentials()
		}
		s.metrics.Login(metrics.OutcomeError)
		return User{}, apperr.Internal(err)
	}

	if !s.hasher.VerifyPassword(creds.Password, user.PasswordHash) {
		s.logger.DebugContext(ctx, "login rejected", slog.String("reason", "password mismatch"), slog.String("user_id", user.ID))
		s.metrics.Login(metrics.OutcomeInvalidCredentials)
		return User{}, apperr.InvalidCredentials()
	}

	s.metrics.Login(metrics.OutcomeSuccess)
	return user, nil
}

// Profile loads the user behind an authenticated identity.
func (s *Service) Profile(ctx context.Context, userID string) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, apperr.NotFound("user associated with token not found")
		}
		return User{}, apperr.Internal(err)
	}
	user.PasswordHash = ""
	return user, nil
}
