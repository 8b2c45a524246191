package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
)

type ProblemRepository interface {
	Create(ctx context.Context, tx *sql.Tx, problem *model.Problem) error
	UpdateAnswers(ctx context.Context, tx *sql.Tx, problem *model.Problem) error
	Delete(ctx context.Context, tx *sql.Tx, id string) error
	// FindByID returns the problem with its subject and owner; tags and OCR data are loaded separately.
	FindByID(ctx context.Context, id string) (*model.Problem, error)
	// List returns one page of problems in scope, newest first, and the total count.
	// A non-positive limit returns every match.
	List(ctx context.Context, scope model.ProblemScope, limit, offset int) ([]model.Problem, int, error)

	AddTags(ctx context.Context, tx *sql.Tx, problemID string, tagIDs []string) error
	ClearTags(ctx context.Context, tx *sql.Tx, problemID string) error
}

type pgProblemRepository struct {
	db *sql.DB
}

func NewPgProblemRepository(db *sql.DB) ProblemRepository {
	return &pgProblemRepository{db: db}
}

const problemSelect = `SELECT p.id, p.created_at, p.content,
	       p.original_answer, p.original_answer_type, p.correct_answer, p.correct_answer_type,
	       p.subject_id, p.owner_id, p.ocr_result_id,
	       s.name, s.slug, u.name, u.role
	FROM problems p
	JOIN subjects s ON s.id = p.subject_id
	JOIN users u ON u.id = p.owner_id`

func scanProblem(row interface{ Scan(...interface{}) error }) (*model.Problem, error) {
	var (
		p                          model.Problem
		origAnswer, origType       sql.NullString
		correctAnswer, correctType sql.NullString
		subjectName, subjectSlug   string
		ownerName, ownerRole       string
	)
	err := row.Scan(&p.ID, &p.CreatedAt, &p.Content,
		&origAnswer, &origType, &correctAnswer, &correctType,
		&p.SubjectID, &p.OwnerID, &p.OCRResultID,
		&subjectName, &subjectSlug, &ownerName, &ownerRole,
	)
	if err != nil {
		return nil, err
	}
	p.OriginalAnswer = stringPtr(origAnswer)
	p.OriginalAnswerType = answerTypePtr(origType)
	p.CorrectAnswer = stringPtr(correctAnswer)
	p.CorrectAnswerType = answerTypePtr(correctType)
	p.Subject = &model.Subject{ID: p.SubjectID, Name: subjectName, Slug: subjectSlug}
	p.Owner = &model.UserPublic{ID: p.OwnerID, Name: ownerName, Role: model.UserRole(ownerRole)}
	p.Tags = []model.Tag{}
	return &p, nil
}

func (r *pgProblemRepository) Create(ctx context.Context, tx *sql.Tx, p *model.Problem) error {
	query := `INSERT INTO problems (id, content, original_answer, original_answer_type, correct_answer, correct_answer_type, subject_id, owner_id, ocr_result_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING created_at`
	err := pick(r.db, tx).QueryRowContext(ctx, query,
		p.ID, p.Content,
		nullString(p.OriginalAnswer), answerTypeArg(p.OriginalAnswerType),
		nullString(p.CorrectAnswer), answerTypeArg(p.CorrectAnswerType),
		p.SubjectID, p.OwnerID, p.OCRResultID,
	).Scan(&p.CreatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return common.InvalidPayload("ocr result %s has already been used", p.OCRResultID)
		}
		return fmt.Errorf("pgProblemRepository.Create: %w", err)
	}
	return nil
}

func (r *pgProblemRepository) UpdateAnswers(ctx context.Context, tx *sql.Tx, p *model.Problem) error {
	query := `UPDATE problems SET
	              original_answer = $1, original_answer_type = $2,
	              correct_answer = $3, correct_answer_type = $4
	          WHERE id = $5`
	_, err := pick(r.db, tx).ExecContext(ctx, query,
		nullString(p.OriginalAnswer), answerTypeArg(p.OriginalAnswerType),
		nullString(p.CorrectAnswer), answerTypeArg(p.CorrectAnswerType),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("pgProblemRepository.UpdateAnswers: %w", err)
	}
	return nil
}

func (r *pgProblemRepository) Delete(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := pick(r.db, tx).ExecContext(ctx, `DELETE FROM problems WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pgProblemRepository.Delete: %w", err)
	}
	return nil
}

func (r *pgProblemRepository) FindByID(ctx context.Context, id string) (*model.Problem, error) {
	p, err := scanProblem(r.db.QueryRowContext(ctx, problemSelect+` WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProblemRepository.FindByID: %w", err)
	}
	return p, nil
}

func (r *pgProblemRepository) List(ctx context.Context, scope model.ProblemScope, limit, offset int) ([]model.Problem, int, error) {
	where := scopeWhere(scope)

	var total int
	countQuery := `SELECT COUNT(*) FROM problems p` + where.clause()
	if err := r.db.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgProblemRepository.List count: %w", err)
	}

	var query strings.Builder
	query.WriteString(problemSelect)
	query.WriteString(where.clause())
	query.WriteString(" ORDER BY p.created_at DESC")
	if limit > 0 {
		query.WriteString(" LIMIT " + where.next(limit))
		query.WriteString(" OFFSET " + where.next(offset))
	}

	rows, err := r.db.QueryContext(ctx, query.String(), where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgProblemRepository.List query: %w", err)
	}
	defer rows.Close()

	problems := []model.Problem{}
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("pgProblemRepository.List scan: %w", err)
		}
		problems = append(problems, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgProblemRepository.List rows.Err: %w", err)
	}
	return problems, total, nil
}

func (r *pgProblemRepository) AddTags(ctx context.Context, tx *sql.Tx, problemID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	q := pick(r.db, tx)
	for _, tagID := range tagIDs {
		_, err := q.ExecContext(ctx,
			`INSERT INTO problem_tags (problem_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			problemID, tagID)
		if err != nil {
			return fmt.Errorf("pgProblemRepository.AddTags exec for tag %s: %w", tagID, err)
		}
	}
	return nil
}

func (r *pgProblemRepository) ClearTags(ctx context.Context, tx *sql.Tx, problemID string) error {
	if _, err := pick(r.db, tx).ExecContext(ctx, `DELETE FROM problem_tags WHERE problem_id = $1`, problemID); err != nil {
		return fmt.Errorf("pgProblemRepository.ClearTags: %w", err)
	}
	return nil
}
