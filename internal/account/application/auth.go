package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	sharedApplication "github.com/avwx-rest/account-backend/internal/shared/application"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/outbox"
	"github.com/avwx-rest/account-backend/pkg/observability"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	purposeVerify = "verify"
	purposeReset  = "reset"
)

// AuthConfig carries the signing and lifetime settings for issued tokens.
type AuthConfig struct {
	JWTSecret       []byte
	JWTLifetime     time.Duration
	MailTokenExpiry time.Duration
	RootURL         string
}

// AuthService handles registration, login and credential maintenance. Access
// tokens and one-shot mail links are both HS256 JWTs signed with the same
// secret but separated by a purpose claim.
type AuthService struct {
	users    domain.UserRepository
	catalog  domain.CatalogRepository
	registry *TokenRegistry
	mailer   domain.Mailer
	captcha  domain.CaptchaVerifier
	outbox   outbox.Repository
	uow      sharedApplication.UnitOfWork
	cfg      AuthConfig
	logger   *slog.Logger
	metrics  observability.Metrics
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	users domain.UserRepository,
	catalog domain.CatalogRepository,
	registry *TokenRegistry,
	mailer domain.Mailer,
	captcha domain.CaptchaVerifier,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	cfg AuthConfig,
	logger *slog.Logger,
	metrics observability.Metrics,
) *AuthService {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &AuthService{
		users:    users,
		catalog:  catalog,
		registry: registry,
		mailer:   mailer,
		captcha:  captcha,
		outbox:   outboxRepo,
		uow:      uow,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register creates a user on the free plan with a fresh application token and
// sends the verification mail. Mail failure does not fail registration. A nil
// captcha verifier admits everyone.
func (s *AuthService) Register(ctx context.Context, email, password, captchaResponse string) (*domain.User, error) {
	addr, err := domain.NewEmail(email)
	if err != nil {
		return nil, err
	}

	if _, err := s.users.FindByEmail(ctx, addr.String()); err == nil {
		return nil, domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	if s.captcha != nil {
		if err := s.captcha.Verify(ctx, captchaResponse); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	freePlan, err := s.catalog.PlanByKey(ctx, domain.FreePlanKey)
	if err != nil {
		return nil, err
	}
	planCopy := *freePlan

	user := domain.NewUser(addr, string(hash), &planCopy)

	token, err := s.registry.Generate(ctx, domain.TokenKindApp)
	if err != nil {
		return nil, err
	}
	user.AddToken(token)

	if err := s.persist(ctx, user); err != nil {
		return nil, err
	}

	s.sendVerification(ctx, user)
	return user, nil
}

// Authenticate checks the credentials and returns the user. Disabled accounts
// can still log in to fix their billing.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

// IssueAccessToken mints a signed session token for the user.
func (s *AuthService) IssueAccessToken(user *domain.User) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(s.cfg.JWTLifetime)

	claims := jwt.RegisteredClaims{
		Subject:   user.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expires, nil
}

// ParseAccessToken validates a session token and returns the user id.
func (s *AuthService) ParseAccessToken(tokenString string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return uuid.Nil, domain.ErrBadAuthToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrBadAuthToken
	}
	return id, nil
}

// VerifyEmail marks the account behind a verification link as verified.
func (s *AuthService) VerifyEmail(ctx context.Context, tokenString string) (*domain.User, error) {
	userID, err := s.parseMailToken(tokenString, purposeVerify)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !user.Verified {
		user.MarkVerified()
		if err := s.persist(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// RequestPasswordReset mails a reset link. A missing address is reported as
// success so the endpoint cannot be used to probe for accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil
		}
		return err
	}

	token, err := s.mailToken(user.ID, purposeReset)
	if err != nil {
		return err
	}
	link := s.cfg.RootURL + "/password/reset/" + token
	if err := s.mailer.SendPasswordReset(ctx, user.Email, link); err != nil {
		s.metrics.Counter(observability.MetricMailErrors, 1)
		s.logger.Error("sending password reset mail", "user_id", user.ID, "error", err)
		return err
	}
	s.metrics.Counter(observability.MetricMailSent, 1, observability.T("kind", "password_reset"))
	return nil
}

// ResetPassword sets a new password from a reset link.
func (s *AuthService) ResetPassword(ctx context.Context, tokenString, newPassword string) error {
	userID, err := s.parseMailToken(tokenString, purposeReset)
	if err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.Touch()
	return s.persist(ctx, user)
}

// ChangePassword swaps the password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, user *domain.User, current, next string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return domain.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.Touch()
	return s.persist(ctx, user)
}

// ChangeEmail moves the account to a new address, notifies the old one and
// restarts verification.
func (s *AuthService) ChangeEmail(ctx context.Context, user *domain.User, newEmail string) error {
	addr, err := domain.NewEmail(newEmail)
	if err != nil {
		return err
	}
	if addr.String() == user.Email {
		return nil
	}

	if _, err := s.users.FindByEmail(ctx, addr.String()); err == nil {
		return domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}

	oldEmail := user.Email
	user.ChangeEmail(addr)
	if err := s.persist(ctx, user); err != nil {
		return err
	}

	if err := s.mailer.SendEmailChanged(ctx, oldEmail, user.Email); err != nil {
		s.metrics.Counter(observability.MetricMailErrors, 1)
		s.logger.Error("sending email change notice", "user_id", user.ID, "error", err)
	}
	s.sendVerification(ctx, user)
	return nil
}

// ResendVerification mails a fresh verification link for an unverified
// account.
func (s *AuthService) ResendVerification(ctx context.Context, user *domain.User) error {
	if user.Verified {
		return nil
	}

	token, err := s.mailToken(user.ID, purposeVerify)
	if err != nil {
		return err
	}
	link := s.cfg.RootURL + "/email/verify/" + token
	if err := s.mailer.SendVerification(ctx, user.Email, link); err != nil {
		s.metrics.Counter(observability.MetricMailErrors, 1)
		return err
	}
	s.metrics.Counter(observability.MetricMailSent, 1, observability.T("kind", "verification"))
	return nil
}

func (s *AuthService) sendVerification(ctx context.Context, user *domain.User) {
	token, err := s.mailToken(user.ID, purposeVerify)
	if err != nil {
		s.logger.Error("building verification token", "user_id", user.ID, "error", err)
		return
	}
	link := s.cfg.RootURL + "/email/verify/" + token
	if err := s.mailer.SendVerification(ctx, user.Email, link); err != nil {
		s.metrics.Counter(observability.MetricMailErrors, 1)
		s.logger.Error("sending verification mail", "user_id", user.ID, "error", err)
		return
	}
	s.metrics.Counter(observability.MetricMailSent, 1, observability.T("kind", "verification"))
}

type mailClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

func (s *AuthService) mailToken(userID uuid.UUID, purpose string) (string, error) {
	now := time.Now().UTC()
	claims := mailClaims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.MailTokenExpiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", purpose, err)
	}
	return signed, nil
}

func (s *AuthService) parseMailToken(tokenString, purpose string) (uuid.UUID, error) {
	claims := &mailClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid || claims.Purpose != purpose {
		return uuid.Nil, domain.ErrBadAuthToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrBadAuthToken
	}
	return id, nil
}

func (s *AuthService) keyFunc(*jwt.Token) (any, error) {
	return s.cfg.JWTSecret, nil
}

func (s *AuthService) persist(ctx context.Context, user *domain.User) error {
	return sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.users.Save(txCtx, user); err != nil {
			return err
		}
		return saveEvents(txCtx, s.outbox, user)
	})
}
