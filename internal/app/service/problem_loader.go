package service

import (
	"context"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository"
)

// problemLoader attaches tags and OCR data to problems read from the repository.
type problemLoader struct {
	problemRepo repository.ProblemRepository
	tagRepo     repository.TagRepository
	ocrRepo     repository.OCRRepository
}

func (l problemLoader) hydrate(ctx context.Context, problems []model.Problem) error {
	if len(problems) == 0 {
		return nil
	}
	ids := make([]string, 0, len(problems))
	resultIDs := make([]string, 0, len(problems))
	for _, p := range problems {
		ids = append(ids, p.ID)
		resultIDs = append(resultIDs, p.OCRResultID)
	}

	tags, err := l.tagRepo.ListByProblems(ctx, ids)
	if err != nil {
		return err
	}
	results, err := l.ocrRepo.FindResultsByIDs(ctx, resultIDs)
	if err != nil {
		return err
	}

	for i := range problems {
		problems[i].Tags = tags[problems[i].ID]
		if problems[i].Tags == nil {
			problems[i].Tags = []model.Tag{}
		}
		problems[i].OCRResult = results[problems[i].OCRResultID]
	}
	return nil
}

func (l problemLoader) list(ctx context.Context, scope model.ProblemScope, limit, offset int) ([]model.Problem, int, error) {
	problems, total, err := l.problemRepo.List(ctx, scope, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := l.hydrate(ctx, problems); err != nil {
		return nil, 0, err
	}
	return problems, total, nil
}

func (l problemLoader) get(ctx context.Context, id string) (*model.Problem, error) {
	p, err := l.problemRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	one := []model.Problem{*p}
	if err := l.hydrate(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

func totalPages(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

func pageOffset(page, perPage int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * perPage
}
