package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository"
	"zhicuoti/internal/platform/database"
	"zhicuoti/internal/platform/events"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	invitationAlphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	InvitationCodeLength = 6
)

// GenerateInvitationCode derives the class code from the SHA-256 digest of
// the id's 16 raw bytes, read as a big integer and written as its last six
// base-36 digits, most significant first.
func GenerateInvitationCode(classID string) (string, error) {
	id, err := uuid.Parse(classID)
	if err != nil {
		return "", fmt.Errorf("invalid class id %q: %w", classID, err)
	}
	sum := sha256.Sum256(id[:])
	n := new(big.Int).SetBytes(sum[:])
	base := big.NewInt(int64(len(invitationAlphabet)))
	rem := new(big.Int)

	code := make([]byte, InvitationCodeLength)
	for i := InvitationCodeLength - 1; i >= 0; i-- {
		n.DivMod(n, base, rem)
		code[i] = invitationAlphabet[rem.Int64()]
	}
	return string(code), nil
}

func normalizeInvitationCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != InvitationCodeLength {
		return "", false
	}
	for _, c := range code {
		if !strings.ContainsRune(invitationAlphabet, c) {
			return "", false
		}
	}
	return code, true
}

type ClassService struct {
	classRepo repository.ClassRepository
	userRepo  repository.UserRepository
	tx        database.Transactor
	locker    Locker
	events    events.Publisher
	validate  *validator.Validate
	log       zerolog.Logger
}

func NewClassService(
	classRepo repository.ClassRepository,
	userRepo repository.UserRepository,
	tx database.Transactor,
	locker Locker,
	publisher events.Publisher,
	log zerolog.Logger,
) *ClassService {
	return &ClassService{
		classRepo: classRepo,
		userRepo:  userRepo,
		tx:        tx,
		locker:    locker,
		events:    publisher,
		validate:  newValidator(),
		log:       log.With().Str("service", "class").Logger(),
	}
}

type ClassRequest struct {
	Name        string  `json:"name" validate:"required,max=128"`
	Description *string `json:"description" validate:"omitempty,max=1024"`
}

type InvitationCodeResponse struct {
	InvitationCode string `json:"invitation_code"`
}

// RequireTeacher is the class ownership guard. A missing class is reported
// as forbidden as well.
func (s *ClassService) RequireTeacher(ctx context.Context, classID string, user *model.User) error {
	if user.Role != model.RoleTeacher {
		return common.Forbidden("only teachers can manage classes")
	}
	if _, err := uuid.Parse(classID); err != nil {
		return common.Forbidden("you are not a teacher of this class")
	}
	ok, err := s.classRepo.IsTeacher(ctx, classID, user.ID)
	if err != nil {
		return err
	}
	if !ok {
		return common.Forbidden("you are not a teacher of this class")
	}
	return nil
}

func (s *ClassService) Create(ctx context.Context, teacher *model.User, req ClassRequest) (*model.Class, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	class := &model.Class{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
	}
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.classRepo.Create(ctx, tx, class); err != nil {
			return err
		}
		return s.classRepo.AddTeacher(ctx, tx, class.ID, teacher.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create class: %w", err)
	}
	s.log.Info().Str("class_id", class.ID).Str("teacher_id", teacher.ID).Msg("class created")
	return class, nil
}

func (s *ClassService) findClass(ctx context.Context, classID string) (*model.Class, error) {
	if _, err := uuid.Parse(classID); err != nil {
		return nil, common.InvalidPayload("class %s does not exist", classID)
	}
	class, err := s.classRepo.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.InvalidPayload("class %s does not exist", classID)
		}
		return nil, err
	}
	return class, nil
}

func (s *ClassService) Get(ctx context.Context, classID string) (*model.ClassWithMembers, error) {
	class, err := s.findClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	teachers, err := s.userRepo.ListClassTeachers(ctx, class.ID)
	if err != nil {
		return nil, err
	}
	students, err := s.userRepo.ListClassStudents(ctx, class.ID)
	if err != nil {
		return nil, err
	}
	return &model.ClassWithMembers{Class: *class, Teachers: teachers, Students: students}, nil
}

func (s *ClassService) Edit(ctx context.Context, teacher *model.User, classID string, req ClassRequest) (*model.Class, error) {
	if err := s.RequireTeacher(ctx, classID, teacher); err != nil {
		return nil, err
	}
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	class, err := s.findClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	class.Name = req.Name
	class.Description = req.Description
	if err := s.classRepo.Update(ctx, nil, class); err != nil {
		return nil, err
	}
	return class, nil
}

func (s *ClassService) Delete(ctx context.Context, teacher *model.User, classID string) error {
	if err := s.RequireTeacher(ctx, classID, teacher); err != nil {
		return err
	}
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		return s.classRepo.Delete(ctx, tx, classID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete class: %w", err)
	}
	s.log.Info().Str("class_id", classID).Str("teacher_id", teacher.ID).Msg("class deleted")
	return nil
}

// InvitationCode returns the stored code, materializing it on first request.
// Concurrent first requests agree on one stored value.
func (s *ClassService) InvitationCode(ctx context.Context, teacher *model.User, classID string) (*InvitationCodeResponse, error) {
	if err := s.RequireTeacher(ctx, classID, teacher); err != nil {
		return nil, err
	}
	class, err := s.findClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.InvitationCode != nil {
		return &InvitationCodeResponse{InvitationCode: *class.InvitationCode}, nil
	}

	code, err := GenerateInvitationCode(class.ID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "lock:class:invitation:"+class.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock class %s: %w", class.ID, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Str("class_id", class.ID).Msg("failed to release invitation lock")
		}
	}()

	stored, err := s.classRepo.SetInvitationCode(ctx, nil, class.ID, code)
	if err != nil {
		return nil, err
	}
	if !stored {
		// Someone else materialized it first; theirs wins.
		class, err = s.findClass(ctx, classID)
		if err != nil {
			return nil, err
		}
		if class.InvitationCode != nil {
			code = *class.InvitationCode
		}
	} else {
		s.log.Info().Str("class_id", class.ID).Msg("invitation code materialized")
	}
	return &InvitationCodeResponse{InvitationCode: code}, nil
}

// Join enrolls the user in the class owning code. Students have a single
// class, so joining another one moves them.
func (s *ClassService) Join(ctx context.Context, user *model.User, code string) (*model.Class, error) {
	normalized, ok := normalizeInvitationCode(code)
	if !ok {
		return nil, common.InvalidPayload("invalid invitation code")
	}
	class, err := s.classRepo.FindByInvitationCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("no class uses invitation code %s", normalized)
		}
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		switch user.Role {
		case model.RoleStudent:
			if user.ClassID != nil && *user.ClassID == class.ID {
				return common.InvalidPayload("you are already in this class")
			}
			return s.userRepo.SetClass(ctx, tx, user.ID, &class.ID)
		case model.RoleTeacher:
			member, err := s.classRepo.IsTeacher(ctx, class.ID, user.ID)
			if err != nil {
				return err
			}
			if member {
				return common.InvalidPayload("you are already in this class")
			}
			return s.classRepo.AddTeacher(ctx, tx, class.ID, user.ID)
		default:
			return common.Forbidden("unknown role %s", user.Role)
		}
	})
	if err != nil {
		return nil, err
	}

	if user.Role == model.RoleStudent {
		user.ClassID = &class.ID
	}
	s.log.Info().Str("class_id", class.ID).Str("user_id", user.ID).Str("role", string(user.Role)).Msg("user joined class")
	if err := s.events.Publish(ctx, model.EventClassJoined, map[string]any{
		"class_id": class.ID,
		"user_id":  user.ID,
		"role":     user.Role,
	}); err != nil {
		s.log.Warn().Err(err).Str("class_id", class.ID).Msg("failed to publish class.joined")
	}
	return class, nil
}
