package service

import (
	"context"
	"errors"
	"fmt"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
)

// DefaultSubjects are seeded at startup.
var DefaultSubjects = []string{"语文", "数学", "英语", "物理", "化学", "生物", "历史", "地理", "政治"}

type SubjectService struct {
	subjectRepo repository.SubjectRepository
	tagRepo     repository.TagRepository
	userRepo    repository.UserRepository
	log         zerolog.Logger
}

func NewSubjectService(
	subjectRepo repository.SubjectRepository,
	tagRepo repository.TagRepository,
	userRepo repository.UserRepository,
	log zerolog.Logger,
) *SubjectService {
	return &SubjectService{
		subjectRepo: subjectRepo,
		tagRepo:     tagRepo,
		userRepo:    userRepo,
		log:         log.With().Str("service", "subject").Logger(),
	}
}

// EnsureDefaults inserts any missing default subject. Safe to run on every start.
func (s *SubjectService) EnsureDefaults(ctx context.Context) error {
	for _, name := range DefaultSubjects {
		subject := &model.Subject{ID: uuid.NewString(), Name: name, Slug: slug.Make(name)}
		if err := s.subjectRepo.Ensure(ctx, subject); err != nil {
			return fmt.Errorf("failed to seed subject %s: %w", name, err)
		}
	}
	s.log.Debug().Int("count", len(DefaultSubjects)).Msg("default subjects ensured")
	return nil
}

func (s *SubjectService) List(ctx context.Context) ([]model.Subject, error) {
	return s.subjectRepo.List(ctx)
}

func (s *SubjectService) Get(ctx context.Context, subjectID string) (*model.SubjectWithRelations, error) {
	subject, err := s.find(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	tags, err := s.tagRepo.ListBySubject(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	teachers, err := s.userRepo.ListSubjectTeachers(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	return &model.SubjectWithRelations{Subject: *subject, Tags: tags, Teachers: teachers}, nil
}

func (s *SubjectService) find(ctx context.Context, subjectID string) (*model.Subject, error) {
	if _, err := uuid.Parse(subjectID); err != nil {
		return nil, common.InvalidPayload("subject %s does not exist", subjectID)
	}
	subject, err := s.subjectRepo.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.InvalidPayload("subject %s does not exist", subjectID)
		}
		return nil, err
	}
	return subject, nil
}
