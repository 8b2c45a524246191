package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type TagRepository interface {
	List(ctx context.Context) ([]model.Tag, error)
	FindByID(ctx context.Context, id string) (*model.Tag, error)
	ListBySubject(ctx context.Context, subjectID string) ([]model.Tag, error)
	// ListUsedBy returns the distinct tags attached to the owner's problems.
	ListUsedBy(ctx context.Context, ownerID string) ([]model.Tag, error)
	Search(ctx context.Context, query, subjectID string) ([]model.Tag, error)
	// FindOrCreate matches name case-insensitively within the subject.
	FindOrCreate(ctx context.Context, tx *sql.Tx, subjectID, name string) (*model.Tag, error)
	ListByProblems(ctx context.Context, problemIDs []string) (map[string][]model.Tag, error)
}

type pgTagRepository struct {
	db *sql.DB
}

func NewPgTagRepository(db *sql.DB) TagRepository {
	return &pgTagRepository{db: db}
}

const tagSelect = `SELECT t.id, t.name, t.subject_id, s.name, s.slug
	FROM tags t JOIN subjects s ON s.id = t.subject_id`

func scanTag(row interface{ Scan(...interface{}) error }) (*model.Tag, error) {
	var (
		t model.Tag
		s model.Subject
	)
	if err := row.Scan(&t.ID, &t.Name, &t.SubjectID, &s.Name, &s.Slug); err != nil {
		return nil, err
	}
	s.ID = t.SubjectID
	t.Subject = &s
	return &t, nil
}

func (r *pgTagRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]model.Tag, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgTagRepository.%s query: %w", op, err)
	}
	defer rows.Close()

	tags := []model.Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("pgTagRepository.%s scan: %w", op, err)
		}
		tags = append(tags, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgTagRepository.%s rows.Err: %w", op, err)
	}
	return tags, nil
}

func (r *pgTagRepository) List(ctx context.Context) ([]model.Tag, error) {
	return r.list(ctx, "List", tagSelect+` ORDER BY s.slug, t.name`)
}

func (r *pgTagRepository) FindByID(ctx context.Context, id string) (*model.Tag, error) {
	t, err := scanTag(r.db.QueryRowContext(ctx, tagSelect+` WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgTagRepository.FindByID: %w", err)
	}
	return t, nil
}

func (r *pgTagRepository) ListBySubject(ctx context.Context, subjectID string) ([]model.Tag, error) {
	return r.list(ctx, "ListBySubject", tagSelect+` WHERE t.subject_id = $1 ORDER BY t.name`, subjectID)
}

func (r *pgTagRepository) ListUsedBy(ctx context.Context, ownerID string) ([]model.Tag, error) {
	query := tagSelect + ` WHERE t.id IN (
	              SELECT pt.tag_id FROM problem_tags pt
	              JOIN problems p ON p.id = pt.problem_id
	              WHERE p.owner_id = $1
	          ) ORDER BY s.slug, t.name`
	return r.list(ctx, "ListUsedBy", query, ownerID)
}

func (r *pgTagRepository) Search(ctx context.Context, query, subjectID string) ([]model.Tag, error) {
	b := &whereBuilder{}
	b.add("t.name ILIKE $%[1]d", "%"+query+"%")
	if subjectID != "" {
		b.add("t.subject_id = $%[1]d", subjectID)
	}
	return r.list(ctx, "Search", tagSelect+b.clause()+` ORDER BY t.name`, b.args...)
}

func (r *pgTagRepository) FindOrCreate(ctx context.Context, tx *sql.Tx, subjectID, name string) (*model.Tag, error) {
	q := pick(r.db, tx)
	insert := `INSERT INTO tags (id, name, subject_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	if _, err := q.ExecContext(ctx, insert, uuid.NewString(), name, subjectID); err != nil {
		return nil, fmt.Errorf("pgTagRepository.FindOrCreate insert: %w", err)
	}

	t, err := scanTag(q.QueryRowContext(ctx, tagSelect+` WHERE t.subject_id = $1 AND lower(t.name) = lower($2)`, subjectID, name))
	if err != nil {
		return nil, fmt.Errorf("pgTagRepository.FindOrCreate select: %w", err)
	}
	return t, nil
}

func (r *pgTagRepository) ListByProblems(ctx context.Context, problemIDs []string) (map[string][]model.Tag, error) {
	byProblem := make(map[string][]model.Tag, len(problemIDs))
	if len(problemIDs) == 0 {
		return byProblem, nil
	}
	query := `SELECT pt.problem_id, t.id, t.name, t.subject_id, s.name, s.slug
	          FROM problem_tags pt
	          JOIN tags t ON t.id = pt.tag_id
	          JOIN subjects s ON s.id = t.subject_id
	          WHERE pt.problem_id::text = ANY($1)
	          ORDER BY t.name`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(problemIDs))
	if err != nil {
		return nil, fmt.Errorf("pgTagRepository.ListByProblems query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			problemID string
			t         model.Tag
			s         model.Subject
		)
		if err := rows.Scan(&problemID, &t.ID, &t.Name, &t.SubjectID, &s.Name, &s.Slug); err != nil {
			return nil, fmt.Errorf("pgTagRepository.ListByProblems scan: %w", err)
		}
		s.ID = t.SubjectID
		t.Subject = &s
		byProblem[problemID] = append(byProblem[problemID], t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgTagRepository.ListByProblems rows.Err: %w", err)
	}
	return byProblem, nil
}
