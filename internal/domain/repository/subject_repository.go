package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
)

type SubjectRepository interface {
	// Ensure inserts the subject unless one with the same name exists.
	Ensure(ctx context.Context, subject *model.Subject) error
	List(ctx context.Context) ([]model.Subject, error)
	FindByID(ctx context.Context, id string) (*model.Subject, error)
	FindByName(ctx context.Context, name string) (*model.Subject, error)
}

type pgSubjectRepository struct {
	db *sql.DB
}

func NewPgSubjectRepository(db *sql.DB) SubjectRepository {
	return &pgSubjectRepository{db: db}
}

func (r *pgSubjectRepository) Ensure(ctx context.Context, s *model.Subject) error {
	query := `INSERT INTO subjects (id, name, slug) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.Name, s.Slug); err != nil {
		return fmt.Errorf("pgSubjectRepository.Ensure: %w", err)
	}
	return nil
}

func (r *pgSubjectRepository) List(ctx context.Context) ([]model.Subject, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, slug FROM subjects ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("pgSubjectRepository.List query: %w", err)
	}
	defer rows.Close()

	subjects := []model.Subject{}
	for rows.Next() {
		var s model.Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.Slug); err != nil {
			return nil, fmt.Errorf("pgSubjectRepository.List scan: %w", err)
		}
		subjects = append(subjects, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgSubjectRepository.List rows.Err: %w", err)
	}
	return subjects, nil
}

func (r *pgSubjectRepository) FindByID(ctx context.Context, id string) (*model.Subject, error) {
	s := &model.Subject{}
	err := r.db.QueryRowContext(ctx, `SELECT id, name, slug FROM subjects WHERE id = $1`, id).Scan(&s.ID, &s.Name, &s.Slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubjectRepository.FindByID: %w", err)
	}
	return s, nil
}

func (r *pgSubjectRepository) FindByName(ctx context.Context, name string) (*model.Subject, error) {
	s := &model.Subject{}
	err := r.db.QueryRowContext(ctx, `SELECT id, name, slug FROM subjects WHERE name = $1`, name).Scan(&s.ID, &s.Name, &s.Slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubjectRepository.FindByName: %w", err)
	}
	return s, nil
}
