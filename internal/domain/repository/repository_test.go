package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestClassRepository_SetInvitationCode(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPgClassRepository(db)
	query := regexp.QuoteMeta(`UPDATE classes SET invitation_code = $1 WHERE id = $2 AND invitation_code IS NULL`)

	mock.ExpectExec(query).WithArgs("5VIOLL", "class-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("5VIOLL", "class-1").WillReturnResult(sqlmock.NewResult(0, 0))

	stored, err := repo.SetInvitationCode(context.Background(), nil, "class-1", "5VIOLL")
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = repo.SetInvitationCode(context.Background(), nil, "class-1", "5VIOLL")
	require.NoError(t, err)
	assert.False(t, stored, "an existing code is never overwritten")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepository_AddTeacherDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPgClassRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO class_teachers`)).
		WithArgs("class-1", "teacher-1").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.AddTeacher(context.Background(), nil, "class-1", "teacher-1")
	assert.ErrorIs(t, err, common.ErrInvalidPayload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_FindByPhone(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPgUserRepository(db)
	query := regexp.QuoteMeta(`SELECT ` + userColumns + ` FROM users WHERE phone_number = $1`)
	createdAt := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(query).WithArgs("13800000000").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "role", "phone_number", "hashed_password", "subject_id", "class_id", "created_at"}).
			AddRow("user-1", "Alice", "student", "13800000000", "hash", nil, "class-1", createdAt),
	)
	mock.ExpectQuery(query).WithArgs("13900000000").WillReturnError(sql.ErrNoRows)

	user, err := repo.FindByPhone(context.Background(), "13800000000")
	require.NoError(t, err)
	assert.Equal(t, model.RoleStudent, user.Role)
	assert.Nil(t, user.SubjectID)
	require.NotNil(t, user.ClassID)
	assert.Equal(t, "class-1", *user.ClassID)
	assert.Equal(t, createdAt, user.CreatedAt)

	_, err = repo.FindByPhone(context.Background(), "13900000000")
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateDuplicatePhone(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPgUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), nil, &model.User{ID: "user-1", Role: model.RoleStudent, PhoneNumber: "13800000000"})
	assert.ErrorIs(t, err, common.ErrInvalidPayload)
	assert.Contains(t, err.Error(), "13800000000")
}

func TestTagRepository_FindOrCreate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPgTagRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tags (id, name, subject_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`)).
		WithArgs(sqlmock.AnyArg(), "Algebra", "subject-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE t.subject_id = $1 AND lower(t.name) = lower($2)`)).
		WithArgs("subject-1", "Algebra").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "subject_id", "s_name", "slug"}).
			AddRow("tag-1", "algebra", "subject-1", "数学", "shu-xue"))

	tag, err := repo.FindOrCreate(context.Background(), nil, "subject-1", "Algebra")
	require.NoError(t, err)
	assert.Equal(t, "tag-1", tag.ID)
	assert.Equal(t, "algebra", tag.Name, "the existing spelling wins")
	require.NotNil(t, tag.Subject)
	assert.Equal(t, "subject-1", tag.Subject.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProblemRepository_ListBuildsScopedQuery(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPgProblemRepository(db)
	scope := model.ProblemScope{ClassID: "class-1", TagID: "tag-1"}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM problems p WHERE p.owner_id IN (SELECT id FROM users WHERE class_id = $1) AND EXISTS`)).
		WithArgs("class-1", "tag-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY p.created_at DESC LIMIT $3 OFFSET $4`)).
		WithArgs("class-1", "tag-1", 6, 12).
		WillReturnRows(sqlmock.NewRows(nil))

	problems, total, err := repo.List(context.Background(), scope, 6, 12)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, problems)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOCRRepository_ChooseBoxDetachesFirst(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPgOCRRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE ocr_boxes SET ocr_result_id = NULL WHERE id = $1`)).
		WithArgs("box-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE ocr_results SET chosen_box_id = $1 WHERE id = $2`)).
		WithArgs("box-1", "result-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.ChooseBox(context.Background(), tx, "result-1", "box-1"))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
