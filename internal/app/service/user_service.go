package service

import (
	"context"
	"errors"
	"fmt"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository"

	"github.com/go-playground/validator/v10"
)

type UserService struct {
	userRepo    repository.UserRepository
	subjectRepo repository.SubjectRepository
	validate    *validator.Validate
}

func NewUserService(userRepo repository.UserRepository, subjectRepo repository.SubjectRepository) *UserService {
	return &UserService{userRepo: userRepo, subjectRepo: subjectRepo, validate: newValidator()}
}

type TeacherEditRequest struct {
	PhoneNumber string  `json:"phone_number" validate:"required,phone"`
	SubjectID   *string `json:"subject_id" validate:"omitempty,uuid"`
}

type StudentEditRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
}

func (s *UserService) EditTeacher(ctx context.Context, user *model.User, req TeacherEditRequest) (*model.UserPublic, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	if err := s.checkPhoneFree(ctx, user.ID, req.PhoneNumber); err != nil {
		return nil, err
	}
	if req.SubjectID != nil {
		if _, err := s.subjectRepo.FindByID(ctx, *req.SubjectID); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.InvalidPayload("subject %s does not exist", *req.SubjectID)
			}
			return nil, err
		}
	}

	updated := *user
	updated.PhoneNumber = req.PhoneNumber
	updated.SubjectID = req.SubjectID
	if err := s.userRepo.UpdateProfile(ctx, nil, &updated); err != nil {
		return nil, err
	}
	public := updated.Public()
	return &public, nil
}

func (s *UserService) EditStudent(ctx context.Context, user *model.User, req StudentEditRequest) (*model.UserPublic, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	if err := s.checkPhoneFree(ctx, user.ID, req.PhoneNumber); err != nil {
		return nil, err
	}

	updated := *user
	updated.PhoneNumber = req.PhoneNumber
	if err := s.userRepo.UpdateProfile(ctx, nil, &updated); err != nil {
		return nil, err
	}
	public := updated.Public()
	return &public, nil
}

// checkPhoneFree allows a user to keep their own number.
func (s *UserService) checkPhoneFree(ctx context.Context, userID, phone string) error {
	other, err := s.userRepo.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up phone number: %w", err)
	}
	if other.ID != userID {
		return common.InvalidPayload("phone number %s is already in use", phone)
	}
	return nil
}
