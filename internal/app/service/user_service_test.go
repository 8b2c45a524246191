package service

import (
	"context"
	"testing"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository/memrepo"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_EditTeacher(t *testing.T) {
	store := memrepo.NewStore()
	subjects := seedSubjects(store)
	svc := NewUserService(store.Users(), store.Subjects())
	ctx := context.Background()

	teacher := seedUser(store, "Teacher", model.RoleTeacher)
	other := seedUserWithPhone(t, store, "Other", model.RoleStudent, "13900000002")
	math := subjects["数学"].ID

	got, err := svc.EditTeacher(ctx, teacher, TeacherEditRequest{PhoneNumber: "13900000001", SubjectID: &math})
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, got.ID)

	stored, err := store.Users().FindByID(ctx, teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, "13900000001", stored.PhoneNumber)
	require.NotNil(t, stored.SubjectID)
	assert.Equal(t, math, *stored.SubjectID)

	t.Run("keeping own number is allowed", func(t *testing.T) {
		_, err := svc.EditTeacher(ctx, stored, TeacherEditRequest{PhoneNumber: "13900000001"})
		assert.NoError(t, err)
	})

	t.Run("number of another user", func(t *testing.T) {
		_, err := svc.EditTeacher(ctx, stored, TeacherEditRequest{PhoneNumber: other.PhoneNumber})
		assert.ErrorIs(t, err, common.ErrInvalidPayload)
	})

	t.Run("unknown subject", func(t *testing.T) {
		missing := "00000000-0000-0000-0000-000000000000"
		_, err := svc.EditTeacher(ctx, stored, TeacherEditRequest{PhoneNumber: "13900000001", SubjectID: &missing})
		require.ErrorIs(t, err, common.ErrInvalidPayload)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("malformed phone", func(t *testing.T) {
		_, err := svc.EditTeacher(ctx, stored, TeacherEditRequest{PhoneNumber: "123"})
		require.ErrorIs(t, err, common.ErrInvalidPayload)
		assert.Contains(t, err.Error(), "phone_number must be 11 digits")
	})
}

func TestUserService_EditStudent(t *testing.T) {
	store := memrepo.NewStore()
	svc := NewUserService(store.Users(), store.Subjects())
	ctx := context.Background()

	student := seedUser(store, "Student", model.RoleStudent)
	taken := seedUserWithPhone(t, store, "Taken", model.RoleTeacher, "13700000001")

	_, err := svc.EditStudent(ctx, student, StudentEditRequest{PhoneNumber: "13700000000"})
	require.NoError(t, err)
	stored, err := store.Users().FindByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, "13700000000", stored.PhoneNumber)

	_, err = svc.EditStudent(ctx, student, StudentEditRequest{PhoneNumber: taken.PhoneNumber})
	assert.ErrorIs(t, err, common.ErrInvalidPayload)
}

func seedUserWithPhone(t *testing.T, store *memrepo.Store, name string, role model.UserRole, phone string) *model.User {
	t.Helper()
	u := &model.User{ID: uuid.NewString(), Name: name, Role: role, PhoneNumber: phone}
	require.NoError(t, store.Users().Create(context.Background(), nil, u))
	return u
}
