package service

import (
	"context"
	"errors"
	"fmt"
	"zhicuoti/internal/common"
	"zhicuoti/internal/common/security"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type AuthService struct {
	userRepo    repository.UserRepository
	classRepo   repository.ClassRepository
	subjectRepo repository.SubjectRepository
	tokens      *security.TokenManager
	validate    *validator.Validate
}

func NewAuthService(
	userRepo repository.UserRepository,
	classRepo repository.ClassRepository,
	subjectRepo repository.SubjectRepository,
	tokens *security.TokenManager,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		classRepo:   classRepo,
		subjectRepo: subjectRepo,
		tokens:      tokens,
		validate:    newValidator(),
	}
}

type RegisterRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Role        string `json:"role" validate:"required,oneof=student teacher"`
	Password    string `json:"password" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"` // phone number
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.UserPublic, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	if len(req.Password) > security.MaxPasswordBytes {
		return nil, common.InvalidPayload("password must be at most %d bytes", security.MaxPasswordBytes)
	}

	if _, err := s.userRepo.FindByPhone(ctx, req.PhoneNumber); err == nil {
		return nil, common.InvalidPayload("phone number %s is already registered", req.PhoneNumber)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up phone number: %w", err)
	}

	hashedPassword, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Role:           model.UserRole(req.Role),
		PhoneNumber:    req.PhoneNumber,
		HashedPassword: hashedPassword,
	}
	// Repo reports a concurrent duplicate as invalid payload.
	if err := s.userRepo.Create(ctx, nil, user); err != nil {
		return nil, err
	}
	public := user.Public()
	return &public, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByPhone(ctx, req.Username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.InvalidPayload("incorrect phone number or password")
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !security.CheckPasswordHash(req.Password, user.HashedPassword) {
		return nil, common.InvalidPayload("incorrect phone number or password")
	}

	token, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &TokenResponse{AccessToken: token, TokenType: "bearer"}, nil
}

// CurrentUser resolves the subject of a verified token.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("user not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *AuthService) Me(ctx context.Context, user *model.User) (*model.UserMe, error) {
	me := &model.UserMe{
		UserPublic:   user.Public(),
		PhoneNumber:  user.PhoneNumber,
		OwnedClasses: []model.Class{},
	}

	if user.Role == model.RoleTeacher {
		classes, err := s.classRepo.ListByTeacher(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		me.OwnedClasses = classes
	}
	if user.ClassID != nil {
		class, err := s.classRepo.FindByID(ctx, *user.ClassID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		me.Class = class
	}
	if user.SubjectID != nil {
		subject, err := s.subjectRepo.FindByID(ctx, *user.SubjectID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		me.Subject = subject
	}
	return me, nil
}
