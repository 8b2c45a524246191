package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
)

type UserRepository interface {
	Create(ctx context.Context, tx *sql.Tx, user *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByPhone(ctx context.Context, phone string) (*model.User, error)
	UpdateProfile(ctx context.Context, tx *sql.Tx, user *model.User) error
	SetClass(ctx context.Context, tx *sql.Tx, userID string, classID *string) error

	ListClassStudents(ctx context.Context, classID string) ([]model.UserPublicInfo, error)
	ListClassTeachers(ctx context.Context, classID string) ([]model.UserPublicInfo, error)
	ListSubjectTeachers(ctx context.Context, subjectID string) ([]model.UserPublic, error)
	// TeachesStudent reports whether the student belongs to a class the teacher is a member of.
	TeachesStudent(ctx context.Context, teacherID, studentID string) (bool, error)
}

type pgUserRepository struct {
	db *sql.DB
}

func NewPgUserRepository(db *sql.DB) UserRepository {
	return &pgUserRepository{db: db}
}

const userColumns = `id, name, role, phone_number, hashed_password, subject_id, class_id, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*model.User, error) {
	var (
		u         model.User
		role      string
		subjectID sql.NullString
		classID   sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Name, &role, &u.PhoneNumber, &u.HashedPassword, &subjectID, &classID, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.UserRole(role)
	u.SubjectID = stringPtr(subjectID)
	u.ClassID = stringPtr(classID)
	return &u, nil
}

func (r *pgUserRepository) Create(ctx context.Context, tx *sql.Tx, user *model.User) error {
	query := `INSERT INTO users (id, name, role, phone_number, hashed_password, subject_id, class_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING created_at`
	err := pick(r.db, tx).QueryRowContext(ctx, query,
		user.ID, user.Name, string(user.Role), user.PhoneNumber, user.HashedPassword,
		nullString(user.SubjectID), nullString(user.ClassID),
	).Scan(&user.CreatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return common.InvalidPayload("phone number %s is already registered", user.PhoneNumber)
		}
		return fmt.Errorf("pgUserRepository.Create: %w", err)
	}
	return nil
}

func (r *pgUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgUserRepository.FindByID: %w", err)
	}
	return user, nil
}

func (r *pgUserRepository) FindByPhone(ctx context.Context, phone string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone_number = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgUserRepository.FindByPhone: %w", err)
	}
	return user, nil
}

func (r *pgUserRepository) UpdateProfile(ctx context.Context, tx *sql.Tx, user *model.User) error {
	query := `UPDATE users SET phone_number = $1, subject_id = $2 WHERE id = $3`
	_, err := pick(r.db, tx).ExecContext(ctx, query, user.PhoneNumber, nullString(user.SubjectID), user.ID)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return common.InvalidPayload("phone number %s is already in use", user.PhoneNumber)
		}
		return fmt.Errorf("pgUserRepository.UpdateProfile: %w", err)
	}
	return nil
}

func (r *pgUserRepository) SetClass(ctx context.Context, tx *sql.Tx, userID string, classID *string) error {
	_, err := pick(r.db, tx).ExecContext(ctx, `UPDATE users SET class_id = $1 WHERE id = $2`, nullString(classID), userID)
	if err != nil {
		return fmt.Errorf("pgUserRepository.SetClass: %w", err)
	}
	return nil
}

func (r *pgUserRepository) listMembers(ctx context.Context, op, query string, args ...interface{}) ([]model.UserPublicInfo, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgUserRepository.%s query: %w", op, err)
	}
	defer rows.Close()

	members := []model.UserPublicInfo{}
	for rows.Next() {
		var (
			m                         model.UserPublicInfo
			role                      string
			subjectID, subjName, slug sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Name, &role, &m.PhoneNumber, &subjectID, &subjName, &slug); err != nil {
			return nil, fmt.Errorf("pgUserRepository.%s scan: %w", op, err)
		}
		m.Role = model.UserRole(role)
		if subjectID.Valid {
			m.Subject = &model.Subject{ID: subjectID.String, Name: subjName.String, Slug: slug.String}
		}
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgUserRepository.%s rows.Err: %w", op, err)
	}
	return members, nil
}

func (r *pgUserRepository) ListClassStudents(ctx context.Context, classID string) ([]model.UserPublicInfo, error) {
	query := `SELECT u.id, u.name, u.role, u.phone_number, s.id, s.name, s.slug
	          FROM users u
	          LEFT JOIN subjects s ON s.id = u.subject_id
	          WHERE u.class_id = $1 AND u.role = 'student'
	          ORDER BY u.name`
	return r.listMembers(ctx, "ListClassStudents", query, classID)
}

func (r *pgUserRepository) ListClassTeachers(ctx context.Context, classID string) ([]model.UserPublicInfo, error) {
	query := `SELECT u.id, u.name, u.role, u.phone_number, s.id, s.name, s.slug
	          FROM class_teachers ct
	          JOIN users u ON u.id = ct.teacher_id
	          LEFT JOIN subjects s ON s.id = u.subject_id
	          WHERE ct.class_id = $1
	          ORDER BY u.name`
	return r.listMembers(ctx, "ListClassTeachers", query, classID)
}

func (r *pgUserRepository) ListSubjectTeachers(ctx context.Context, subjectID string) ([]model.UserPublic, error) {
	query := `SELECT id, name, role FROM users WHERE subject_id = $1 AND role = 'teacher' ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("pgUserRepository.ListSubjectTeachers query: %w", err)
	}
	defer rows.Close()

	teachers := []model.UserPublic{}
	for rows.Next() {
		var (
			t    model.UserPublic
			role string
		)
		if err := rows.Scan(&t.ID, &t.Name, &role); err != nil {
			return nil, fmt.Errorf("pgUserRepository.ListSubjectTeachers scan: %w", err)
		}
		t.Role = model.UserRole(role)
		teachers = append(teachers, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgUserRepository.ListSubjectTeachers rows.Err: %w", err)
	}
	return teachers, nil
}

func (r *pgUserRepository) TeachesStudent(ctx context.Context, teacherID, studentID string) (bool, error) {
	query := `SELECT EXISTS (
	              SELECT 1 FROM users u
	              JOIN class_teachers ct ON ct.class_id = u.class_id
	              WHERE u.id = $1 AND u.role = 'student' AND ct.teacher_id = $2
	          )`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, studentID, teacherID).Scan(&ok); err != nil {
		return false, fmt.Errorf("pgUserRepository.TeachesStudent: %w", err)
	}
	return ok, nil
}
