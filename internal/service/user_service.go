package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"rwaadmin/internal/model"
	"rwaadmin/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DTOs for Request validation
type CreateUserRequest struct {
	Username      string   `json:"username" binding:"required"`
	Email         string   `json:"email" binding:"required,email"`
	Phone         string   `json:"phone"`
	Password      string   `json:"password" binding:"required,min=8"`
	Roles         []string `json:"roles" binding:"required,min=1"`
	SigningWeight int      `json:"signing_weight"`
}

type UpdateUserRequest struct {
	Username      string `json:"username"`
	Email         string `json:"email" binding:"omitempty,email"`
	Phone         string `json:"phone"`
	SigningWeight *int   `json:"signing_weight"`
	Active        *bool  `json:"active"`
}

type AssignRolesRequest struct {
	Roles []string `json:"roles" binding:"required"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Roles         []string  `json:"roles"`
	SigningWeight int       `json:"signing_weight"`
	Active        bool      `json:"active"`
	CreatedAt     string    `json:"created_at"`
	UpdatedAt     string    `json:"updated_at"`
}

// TokenConfig controls JWT issuance.
type TokenConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// UserService defines the interface for business logic related to User
type UserService interface {
	CreateUser(ctx context.Context, actorID string, req CreateUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	GetUserByID(ctx context.Context, id string) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (*UserResponse, error)
	AssignRoles(ctx context.Context, actorID, id string, req AssignRolesRequest) (*UserResponse, error)
	DeleteUser(ctx context.Context, id string) error
}

type userService struct {
	repo      repository.UserRepository
	auditRepo repository.AuditRepository
	tm        repository.TransactionManager
	tokens    TokenConfig
	now       func() time.Time
}

// NewUserService returns a new instance of UserService
func NewUserService(repo repository.UserRepository, auditRepo repository.AuditRepository, tm repository.TransactionManager, tokens TokenConfig) UserService {
	if tokens.AccessTTL <= 0 {
		tokens.AccessTTL = 15 * time.Minute
	}
	if tokens.RefreshTTL <= 0 {
		tokens.RefreshTTL = 7 * 24 * time.Hour
	}
	return &userService{repo: repo, auditRepo: auditRepo, tm: tm, tokens: tokens, now: time.Now}
}

var emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// Helper: parse model to standard json API response
func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		Phone:         user.Phone,
		Roles:         user.RoleNames(),
		SigningWeight: user.SigningWeight,
		Active:        user.Active,
		CreatedAt:     formatTime(user.CreatedAt),
		UpdatedAt:     formatTime(user.UpdatedAt),
	}
}

func normalizeRoleNames(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r != "" && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *userService) CreateUser(ctx context.Context, actorID string, req CreateUserRequest) (*UserResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !emailRegex.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	roles := normalizeRoleNames(req.Roles)
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", ErrValidation)
	}
	if req.SigningWeight < 0 {
		return nil, fmt.Errorf("%w: signing_weight must not be negative", ErrValidation)
	}

	// Double check username/email uniqueness via repo directly
	if _, err := s.repo.GetByUsername(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("%w: username %s", ErrAlreadyExists, req.Username)
	}
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email %s", ErrAlreadyExists, email)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:      strings.TrimSpace(req.Username),
		Email:         email,
		Phone:         req.Phone,
		Password:      string(hashedPassword),
		SigningWeight: max(req.SigningWeight, 1),
		Active:        true,
	}

	err = s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		if err := s.repo.ReplaceRoles(txCtx, user, roles); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		details, _ := json.Marshal(map[string]any{"username": user.Username, "roles": roles})
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     parseUserID(actorID),
			Action:     model.ActionCreateUser,
			EntityType: model.EntityUser,
			EntityID:   user.ID.String(),
			Details:    string(details),
		})
	})
	if err != nil {
		return nil, err
	}

	return mapToResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueTokens(ctx, user)
}

// RefreshToken rotates the refresh token: the presented one is consumed.
func (s *userService) RefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error) {
	stored, err := s.repo.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if err := s.repo.DeleteRefreshToken(ctx, stored.Token); err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if s.now().After(stored.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	user, err := s.repo.GetByID(ctx, stored.UserID.String())
	if err != nil || !user.Active {
		return nil, ErrInvalidToken
	}
	return s.issueTokens(ctx, user)
}

func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.repo.DeleteRefreshToken(ctx, refreshToken)
}

func (s *userService) issueTokens(ctx context.Context, user *model.User) (*TokenResponse, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID.String(),
		"roles": user.RoleNames(),
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokens.AccessTTL).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.tokens.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	refresh := &model.RefreshToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(s.tokens.RefreshTTL),
	}
	if err := s.repo.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &TokenResponse{
		Token:        tokenString,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(s.tokens.AccessTTL.Seconds()),
	}, nil
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*UserResponse, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	users, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}
	return responses, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (*UserResponse, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Username != "" && req.Username != user.Username {
		if _, err := s.repo.GetByUsername(ctx, req.Username); err == nil {
			return nil, fmt.Errorf("%w: username %s", ErrAlreadyExists, req.Username)
		}
		user.Username = req.Username
	}

	if req.Email != "" {
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if email != user.Email {
			if _, err := s.repo.GetByEmail(ctx, email); err == nil {
				return nil, fmt.Errorf("%w: email %s", ErrAlreadyExists, email)
			}
			user.Email = email
		}
	}

	if req.Phone != "" {
		user.Phone = req.Phone
	}
	if req.SigningWeight != nil {
		if *req.SigningWeight < 1 {
			return nil, fmt.Errorf("%w: signing_weight must be at least 1", ErrValidation)
		}
		user.SigningWeight = *req.SigningWeight
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return mapToResponse(user), nil
}

// AssignRoles replaces the user's roles. Approvals already recorded keep the
// role they were cast with.
func (s *userService) AssignRoles(ctx context.Context, actorID, id string, req AssignRolesRequest) (*UserResponse, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	before := strings.Join(user.RoleNames(), ",")
	roles := normalizeRoleNames(req.Roles)

	err = s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.ReplaceRoles(txCtx, user, roles); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		details, _ := json.Marshal(map[string]any{"before": before, "after": roles})
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     parseUserID(actorID),
			Action:     model.ActionAssignRoles,
			EntityType: model.EntityUser,
			EntityID:   user.ID.String(),
			Details:    string(details),
		})
	})
	if err != nil {
		return nil, err
	}
	return mapToResponse(user), nil
}

func (s *userService) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *userService) find(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}
