package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/pkg/validation"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/pkg/jwt"
	"CerberusPlatform/services/auth-service/internal/pkg/password"
	"CerberusPlatform/services/auth-service/internal/repository"
)

// Сообщения об ошибках, отдаваемые клиенту
const (
	MsgEmailPasswordRequired = "Email and password are required"
	MsgInvalidEmail          = "Invalid email"
	MsgEmailRegistered       = "Email already registered"
	MsgMissingCredentials    = "Missing email or password"
	MsgInvalidCredentials    = "Invalid credentials"
	MsgMissingRefreshToken   = "Missing refresh_token"
	MsgInvalidRefreshToken   = "Invalid refresh token"
	MsgRefreshTokenRevoked   = "Refresh token revoked"
	MsgRefreshTokenExpired   = "Refresh token expired"
	MsgMissingEmail          = "Missing email"
	MsgMissingResetFields    = "Missing token or newPassword"
	MsgInvalidResetToken     = "Invalid or expired reset token"
)

// dummyPasswordHash корректное по формату значение для проверки пароля неизвестного пользователя
const dummyPasswordHash = "00000000000000000000000000000000:" +
	"0000000000000000000000000000000000000000000000000000000000000000"

// TokenPair ответ на вход и обновление токена
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// AuthService сценарии аутентификации по паролю и одноразовым токенам
type AuthService struct {
	users     repository.UserRepository
	ledger    *Ledger
	signer    *jwt.Signer
	hasher    password.Hasher
	audit     AuditSink
	validator *validation.Validator
	log       logger.Logger
	now       func() time.Time
}

// NewAuthService создает новый экземпляр AuthService
func NewAuthService(
	users repository.UserRepository,
	ledger *Ledger,
	signer *jwt.Signer,
	hasher password.Hasher,
	audit AuditSink,
	log logger.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		ledger:    ledger,
		signer:    signer,
		hasher:    hasher,
		audit:     audit,
		validator: validation.NewValidator(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register создает пользователя
func (s *AuthService) Register(ctx context.Context, email, plain string) (*domain.User, error) {
	if validation.Blank(email, plain) {
		return nil, pkgErrors.Validation(MsgEmailPasswordRequired)
	}
	email = validation.NormalizeEmail(email)
	if !s.validator.IsEmail(email) {
		return nil, pkgErrors.Validation(MsgInvalidEmail)
	}

	passwordHash, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, pkgErrors.Internal(fmt.Errorf("failed to hash password: %w", err))
	}

	now := s.now()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, pkgErrors.Conflict(MsgEmailRegistered)
		}
		return nil, pkgErrors.Internal(err)
	}

	s.log.Info("User registered", logger.CtxField(ctx), logger.String("user_id", user.ID))
	s.audit.Record(ctx, NewAuditEvent(EventRegister, user.ID, ClientIP(ctx), nil))
	return user, nil
}

// Login проверяет пароль и выдает пару токенов.
// Неизвестный email и неверный пароль неразличимы для клиента.
func (s *AuthService) Login(ctx context.Context, email, plain string) (*TokenPair, error) {
	if validation.Blank(email, plain) {
		return nil, pkgErrors.Validation(MsgMissingCredentials)
	}
	email = validation.NormalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, pkgErrors.Internal(err)
	}
	if user == nil {
		// Время ответа не должно выдавать существование email
		s.hasher.Check(plain, dummyPasswordHash)
	}
	if user == nil || !s.hasher.Check(plain, user.PasswordHash) {
		userID := ""
		if user != nil {
			userID = user.ID
		}
		s.audit.Record(ctx, NewAuditEvent(EventLoginFailed, userID, ClientIP(ctx), map[string]interface{}{"email": email}))
		return nil, pkgErrors.Unauthorized(MsgInvalidCredentials)
	}

	refreshToken, err := s.ledger.Issue(ctx, user.ID, domain.PurposeSession, 0)
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	pair, err := s.tokenPair(user.ID, refreshToken)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, NewAuditEvent(EventLogin, user.ID, ClientIP(ctx), nil))
	return pair, nil
}

// Refresh ротирует refresh токен и выдает новую пару
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if validation.Blank(refreshToken) {
		return nil, pkgErrors.Validation(MsgMissingRefreshToken)
	}

	redemption, err := s.ledger.Redeem(ctx, refreshToken, domain.PurposeSession)
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}

	switch redemption.Outcome {
	case OutcomeNotFound:
		return nil, pkgErrors.Unauthorized(MsgInvalidRefreshToken)
	case OutcomeAlreadyConsumed:
		s.log.Warn("Revoked refresh token presented",
			logger.CtxField(ctx),
			logger.String("user_id", redemption.UserID))
		return nil, pkgErrors.Unauthorized(MsgRefreshTokenRevoked)
	case OutcomeExpired:
		return nil, pkgErrors.Unauthorized(MsgRefreshTokenExpired)
	}

	pair, err := s.tokenPair(redemption.UserID, redemption.Token)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, NewAuditEvent(EventRefresh, redemption.UserID, ClientIP(ctx), nil))
	return pair, nil
}

// Revoke отзывает refresh токен
func (s *AuthService) Revoke(ctx context.Context, refreshToken string) error {
	if validation.Blank(refreshToken) {
		return pkgErrors.Validation(MsgMissingRefreshToken)
	}

	redemption, err := s.ledger.Revoke(ctx, refreshToken, domain.PurposeSession)
	if err != nil {
		return pkgErrors.Internal(err)
	}
	if redemption.Outcome == OutcomeNotFound {
		return pkgErrors.Unauthorized(MsgInvalidRefreshToken)
	}

	s.audit.Record(ctx, NewAuditEvent(EventRevoke, redemption.UserID, ClientIP(ctx), nil))
	return nil
}

// ForgotPassword выпускает токен сброса пароля.
// Для неизвестного email возвращает пустую строку без ошибки.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	if validation.Blank(email) {
		return "", pkgErrors.Validation(MsgMissingEmail)
	}
	email = validation.NormalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", pkgErrors.Internal(err)
	}

	resetToken, err := s.ledger.Issue(ctx, user.ID, domain.PurposeReset, 0)
	if err != nil {
		return "", pkgErrors.Internal(err)
	}

	s.audit.Record(ctx, NewAuditEvent(EventPasswordResetRequested, user.ID, ClientIP(ctx), nil))
	return resetToken, nil
}

// ResetPassword погашает токен сброса и устанавливает новый пароль.
// Токен погашается до смены пароля, поэтому повторно не срабатывает.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if validation.Blank(resetToken, newPassword) {
		return pkgErrors.Validation(MsgMissingResetFields)
	}

	redemption, err := s.ledger.Redeem(ctx, resetToken, domain.PurposeReset)
	if err != nil {
		return pkgErrors.Internal(err)
	}
	if redemption.Outcome != OutcomeValid {
		s.audit.Record(ctx, NewAuditEvent(EventPasswordResetFailed, redemption.UserID, ClientIP(ctx),
			map[string]interface{}{"reason": resetFailureReason(redemption.Outcome)}))
		return pkgErrors.Validation(MsgInvalidResetToken)
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return pkgErrors.Internal(fmt.Errorf("failed to hash password: %w", err))
	}
	if err := s.users.UpdatePassword(ctx, redemption.UserID, passwordHash, s.now()); err != nil {
		return pkgErrors.Internal(err)
	}

	s.log.Info("Password reset", logger.CtxField(ctx), logger.String("user_id", redemption.UserID))
	s.audit.Record(ctx, NewAuditEvent(EventPasswordResetCompleted, redemption.UserID, ClientIP(ctx), nil))
	return nil
}

func resetFailureReason(outcome Outcome) string {
	switch outcome {
	case OutcomeAlreadyConsumed:
		return "token_already_used"
	case OutcomeExpired:
		return "token_expired"
	default:
		return "invalid_token"
	}
}

func (s *AuthService) tokenPair(userID, refreshToken string) (*TokenPair, error) {
	accessToken, err := s.signer.Issue(userID)
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.signer.TTL() / time.Second),
	}, nil
}

// VerifyAccessToken проверяет JWT и возвращает субъекта
func (s *AuthService) VerifyAccessToken(token string) (*domain.Principal, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	return &domain.Principal{UserID: claims.Subject, Method: domain.AuthMethodJWT}, nil
}
