package service

import (
	"context"
	"errors"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository"

	"github.com/google/uuid"
)

type TagService struct {
	tagRepo repository.TagRepository
	loader  problemLoader
}

func NewTagService(
	tagRepo repository.TagRepository,
	problemRepo repository.ProblemRepository,
	ocrRepo repository.OCRRepository,
) *TagService {
	return &TagService{
		tagRepo: tagRepo,
		loader:  problemLoader{problemRepo: problemRepo, tagRepo: tagRepo, ocrRepo: ocrRepo},
	}
}

func (s *TagService) List(ctx context.Context) ([]model.Tag, error) {
	return s.tagRepo.List(ctx)
}

// ListMine returns the tags on the student's own problems.
func (s *TagService) ListMine(ctx context.Context, student *model.User) ([]model.Tag, error) {
	return s.tagRepo.ListUsedBy(ctx, student.ID)
}

func (s *TagService) Search(ctx context.Context, query, subjectID string) ([]model.Tag, error) {
	if subjectID != "" {
		if _, err := uuid.Parse(subjectID); err != nil {
			return nil, common.InvalidPayload("subject %s does not exist", subjectID)
		}
	}
	return s.tagRepo.Search(ctx, query, subjectID)
}

func (s *TagService) find(ctx context.Context, tagID string) (*model.Tag, error) {
	if _, err := uuid.Parse(tagID); err != nil {
		return nil, common.InvalidPayload("tag %s does not exist", tagID)
	}
	tag, err := s.tagRepo.FindByID(ctx, tagID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.InvalidPayload("tag %s does not exist", tagID)
		}
		return nil, err
	}
	return tag, nil
}

func (s *TagService) Get(ctx context.Context, tagID string) (*model.TagWithProblems, error) {
	return s.withProblems(ctx, tagID, "")
}

// GetMine is Get restricted to the student's own problems.
func (s *TagService) GetMine(ctx context.Context, student *model.User, tagID string) (*model.TagWithProblems, error) {
	return s.withProblems(ctx, tagID, student.ID)
}

func (s *TagService) withProblems(ctx context.Context, tagID, ownerID string) (*model.TagWithProblems, error) {
	tag, err := s.find(ctx, tagID)
	if err != nil {
		return nil, err
	}
	problems, _, err := s.loader.list(ctx, model.ProblemScope{TagID: tag.ID, OwnerID: ownerID}, 0, 0)
	if err != nil {
		return nil, err
	}
	return &model.TagWithProblems{Tag: *tag, Problems: problems}, nil
}
