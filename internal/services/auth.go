package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/models"
)

type userRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
}

type tokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

type AuthService struct {
	userRepo userRepository
	jwt      *middleware.JWTAuth
	revoker  tokenRevoker
}

func NewAuthService(userRepo userRepository, jwt *middleware.JWTAuth, revoker tokenRevoker) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		jwt:      jwt,
		revoker:  revoker,
	}
}

func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error) {
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &UnauthorizedError{Message: "Invalid email or password"}
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, &UnauthorizedError{Message: "Account is deactivated"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &UnauthorizedError{Message: "Invalid email or password"}
	}

	s.userRepo.UpdateLastLogin(ctx, user.ID)

	token, err := s.jwt.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &models.AuthTokens{
		AccessToken: token,
		ExpiresIn:   int(s.jwt.TTL.Seconds()),
	}, nil
}

// Logout revokes the presented access token for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, identity middleware.Identity) error {
	if identity.TokenID == "" {
		return nil
	}
	return s.revoker.Revoke(ctx, identity.TokenID, identity.ExpiresAt)
}

func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "User not found"}
		}
		return nil, err
	}
	return user, nil
}

// CreateUser provisions an account; used by the create-user command.
func (s *AuthService) CreateUser(ctx context.Context, email, password, fullName string, staff bool) (*models.User, error) {
	fieldErrors := make(map[string]string)
	if email == "" {
		fieldErrors["email"] = "Email is required"
	}
	if len(password) < 8 {
		fieldErrors["password"] = "Password must be at least 8 characters"
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
		IsStaff:      staff,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
