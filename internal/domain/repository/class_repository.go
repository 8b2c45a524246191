package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
)

type ClassRepository interface {
	Create(ctx context.Context, tx *sql.Tx, class *model.Class) error
	Update(ctx context.Context, tx *sql.Tx, class *model.Class) error
	// Delete detaches the students first; teacher links cascade.
	Delete(ctx context.Context, tx *sql.Tx, id string) error
	FindByID(ctx context.Context, id string) (*model.Class, error)
	FindByInvitationCode(ctx context.Context, code string) (*model.Class, error)
	// SetInvitationCode stores code only if none is stored yet and reports whether it did.
	SetInvitationCode(ctx context.Context, tx *sql.Tx, id, code string) (bool, error)

	AddTeacher(ctx context.Context, tx *sql.Tx, classID, teacherID string) error
	IsTeacher(ctx context.Context, classID, teacherID string) (bool, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]model.Class, error)
	CountMembers(ctx context.Context, classID string) (students, teachers int, err error)
}

type pgClassRepository struct {
	db *sql.DB
}

func NewPgClassRepository(db *sql.DB) ClassRepository {
	return &pgClassRepository{db: db}
}

func scanClass(row interface{ Scan(...interface{}) error }) (*model.Class, error) {
	var (
		c           model.Class
		description sql.NullString
		code        sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &description, &code); err != nil {
		return nil, err
	}
	c.Description = stringPtr(description)
	c.InvitationCode = stringPtr(code)
	return &c, nil
}

func (r *pgClassRepository) Create(ctx context.Context, tx *sql.Tx, c *model.Class) error {
	query := `INSERT INTO classes (id, name, description) VALUES ($1, $2, $3)`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, c.ID, c.Name, nullString(c.Description)); err != nil {
		return fmt.Errorf("pgClassRepository.Create: %w", err)
	}
	return nil
}

func (r *pgClassRepository) Update(ctx context.Context, tx *sql.Tx, c *model.Class) error {
	query := `UPDATE classes SET name = $1, description = $2 WHERE id = $3`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, c.Name, nullString(c.Description), c.ID); err != nil {
		return fmt.Errorf("pgClassRepository.Update: %w", err)
	}
	return nil
}

func (r *pgClassRepository) Delete(ctx context.Context, tx *sql.Tx, id string) error {
	q := pick(r.db, tx)
	if _, err := q.ExecContext(ctx, `UPDATE users SET class_id = NULL WHERE class_id = $1`, id); err != nil {
		return fmt.Errorf("pgClassRepository.Delete detach students: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pgClassRepository.Delete: %w", err)
	}
	return nil
}

func (r *pgClassRepository) FindByID(ctx context.Context, id string) (*model.Class, error) {
	query := `SELECT id, name, description, invitation_code FROM classes WHERE id = $1`
	c, err := scanClass(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgClassRepository.FindByID: %w", err)
	}
	return c, nil
}

func (r *pgClassRepository) FindByInvitationCode(ctx context.Context, code string) (*model.Class, error) {
	query := `SELECT id, name, description, invitation_code FROM classes WHERE invitation_code = $1`
	c, err := scanClass(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgClassRepository.FindByInvitationCode: %w", err)
	}
	return c, nil
}

func (r *pgClassRepository) SetInvitationCode(ctx context.Context, tx *sql.Tx, id, code string) (bool, error) {
	query := `UPDATE classes SET invitation_code = $1 WHERE id = $2 AND invitation_code IS NULL`
	res, err := pick(r.db, tx).ExecContext(ctx, query, code, id)
	if err != nil {
		return false, fmt.Errorf("pgClassRepository.SetInvitationCode: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgClassRepository.SetInvitationCode rows: %w", err)
	}
	return n == 1, nil
}

func (r *pgClassRepository) AddTeacher(ctx context.Context, tx *sql.Tx, classID, teacherID string) error {
	query := `INSERT INTO class_teachers (class_id, teacher_id) VALUES ($1, $2)`
	if _, err := pick(r.db, tx).ExecContext(ctx, query, classID, teacherID); err != nil {
		if common.IsUniqueViolation(err) {
			return common.InvalidPayload("user already in class")
		}
		return fmt.Errorf("pgClassRepository.AddTeacher: %w", err)
	}
	return nil
}

func (r *pgClassRepository) IsTeacher(ctx context.Context, classID, teacherID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM class_teachers WHERE class_id = $1 AND teacher_id = $2)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, classID, teacherID).Scan(&ok); err != nil {
		return false, fmt.Errorf("pgClassRepository.IsTeacher: %w", err)
	}
	return ok, nil
}

func (r *pgClassRepository) ListByTeacher(ctx context.Context, teacherID string) ([]model.Class, error) {
	query := `SELECT c.id, c.name, c.description, c.invitation_code
	          FROM classes c
	          JOIN class_teachers ct ON ct.class_id = c.id
	          WHERE ct.teacher_id = $1
	          ORDER BY c.created_at`
	rows, err := r.db.QueryContext(ctx, query, teacherID)
	if err != nil {
		return nil, fmt.Errorf("pgClassRepository.ListByTeacher query: %w", err)
	}
	defer rows.Close()

	classes := []model.Class{}
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("pgClassRepository.ListByTeacher scan: %w", err)
		}
		classes = append(classes, *c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgClassRepository.ListByTeacher rows.Err: %w", err)
	}
	return classes, nil
}

func (r *pgClassRepository) CountMembers(ctx context.Context, classID string) (int, int, error) {
	query := `SELECT
	              (SELECT COUNT(*) FROM users WHERE class_id = $1 AND role = 'student'),
	              (SELECT COUNT(*) FROM class_teachers WHERE class_id = $1)`
	var students, teachers int
	if err := r.db.QueryRowContext(ctx, query, classID).Scan(&students, &teachers); err != nil {
		return 0, 0, fmt.Errorf("pgClassRepository.CountMembers: %w", err)
	}
	return students, teachers, nil
}
