package service

import (
	"context"
	"strings"
	"testing"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository/memrepo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInvitationCode(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"6f1c1f0e-3b7a-4e0a-9a5e-2b1d3c4e5f60", "5VIOLL"},
		{"00000000-0000-0000-0000-000000000000", "2NK2BF"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			code, err := GenerateInvitationCode(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)

			again, err := GenerateInvitationCode(tt.id)
			require.NoError(t, err)
			assert.Equal(t, code, again)
		})
	}

	_, err := GenerateInvitationCode("not-a-uuid")
	assert.Error(t, err)
}

func TestNormalizeInvitationCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"5violl", "5VIOLL", true},
		{"  2NK2BF ", "2NK2BF", true},
		{"ABC", "", false},
		{"ABCDEFG", "", false},
		{"AB-DEF", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeInvitationCode(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

type classFixture struct {
	store     *memrepo.Store
	svc       *ClassService
	locker    *fakeLocker
	publisher *fakePublisher
}

func newClassFixture() *classFixture {
	store := memrepo.NewStore()
	locker := &fakeLocker{}
	publisher := &fakePublisher{}
	svc := NewClassService(store.Classes(), store.Users(), store.Transactor(), locker, publisher, testLog)
	return &classFixture{store: store, svc: svc, locker: locker, publisher: publisher}
}

func TestClassService_CreateAndGet(t *testing.T) {
	f := newClassFixture()
	ctx := context.Background()
	teacher := seedUser(f.store, "Teacher Wang", model.RoleTeacher)

	class, err := f.svc.Create(ctx, teacher, ClassRequest{Name: "Class 1"})
	require.NoError(t, err)
	assert.Nil(t, class.InvitationCode)

	got, err := f.svc.Get(ctx, class.ID)
	require.NoError(t, err)
	require.Len(t, got.Teachers, 1)
	assert.Equal(t, teacher.ID, got.Teachers[0].ID)
	assert.Empty(t, got.Students)

	_, err = f.svc.Create(ctx, teacher, ClassRequest{})
	assert.ErrorIs(t, err, common.ErrInvalidPayload)

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrInvalidPayload)
}

func TestClassService_InvitationCodeMaterializesOnce(t *testing.T) {
	f := newClassFixture()
	ctx := context.Background()
	teacher := seedUser(f.store, "Teacher Wang", model.RoleTeacher)
	class, err := f.svc.Create(ctx, teacher, ClassRequest{Name: "Class 1"})
	require.NoError(t, err)

	want, err := GenerateInvitationCode(class.ID)
	require.NoError(t, err)

	first, err := f.svc.InvitationCode(ctx, teacher, class.ID)
	require.NoError(t, err)
	assert.Equal(t, want, first.InvitationCode)
	assert.Len(t, f.locker.acquired, 1)

	second, err := f.svc.InvitationCode(ctx, teacher, class.ID)
	require.NoError(t, err)
	assert.Equal(t, first.InvitationCode, second.InvitationCode)
	assert.Len(t, f.locker.acquired, 1, "a stored code is returned without locking")
}

func TestClassService_InvitationCodeKeepsStoredValue(t *testing.T) {
	f := newClassFixture()
	ctx := context.Background()
	teacher := seedUser(f.store, "Teacher Wang", model.RoleTeacher)
	class, err := f.svc.Create(ctx, teacher, ClassRequest{Name: "Class 1"})
	require.NoError(t, err)

	stored, err := f.store.Classes().SetInvitationCode(ctx, nil, class.ID, "ZZZZZZ")
	require.NoError(t, err)
	require.True(t, stored)

	resp, err := f.svc.InvitationCode(ctx, teacher, class.ID)
	require.NoError(t, err)
	assert.Equal(t, "ZZZZZZ", resp.InvitationCode)
}

func TestClassService_RequireTeacher(t *testing.T) {
	f := newClassFixture()
	ctx := context.Background()
	owner := seedUser(f.store, "Owner", model.RoleTeacher)
	other := seedUser(f.store, "Other", model.RoleTeacher)
	student := seedUser(f.store, "Student", model.RoleStudent)
	class, err := f.svc.Create(ctx, owner, ClassRequest{Name: "Class 1"})
	require.NoError(t, err)

	assert.NoError(t, f.svc.RequireTeacher(ctx, class.ID, owner))
	assert.ErrorIs(t, f.svc.RequireTeacher(ctx, class.ID, other), common.ErrForbidden)
	assert.ErrorIs(t, f.svc.RequireTeacher(ctx, class.ID, student), common.ErrForbidden)
	assert.ErrorIs(t, f.svc.RequireTeacher(ctx, "00000000-0000-0000-0000-000000000000", owner), common.ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, other, class.ID), common.ErrForbidden)
}

func TestClassService_Join(t *testing.T) {
	f := newClassFixture()
	ctx := context.Background()
	owner := seedUser(f.store, "Owner", model.RoleTeacher)
	colleague := seedUser(f.store, "Colleague", model.RoleTeacher)
	student := seedUser(f.store, "Student", model.RoleStudent)

	class, err := f.svc.Create(ctx, owner, ClassRequest{Name: "Class 1"})
	require.NoError(t, err)
	code, err := f.svc.InvitationCode(ctx, owner, class.ID)
	require.NoError(t, err)

	t.Run("malformed code", func(t *testing.T) {
		_, err := f.svc.Join(ctx, student, "abc")
		assert.ErrorIs(t, err, common.ErrInvalidPayload)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := f.svc.Join(ctx, student, "000000")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("student joins with lowercase code", func(t *testing.T) {
		joined, err := f.svc.Join(ctx, student, " "+strings.ToLower(code.InvitationCode)+" ")
		require.NoError(t, err)
		assert.Equal(t, class.ID, joined.ID)
		require.NotNil(t, student.ClassID)
		assert.Equal(t, class.ID, *student.ClassID)

		got, err := f.svc.Get(ctx, class.ID)
		require.NoError(t, err)
		require.Len(t, got.Students, 1)
		assert.Equal(t, student.ID, got.Students[0].ID)
	})

	t.Run("student joins twice", func(t *testing.T) {
		_, err := f.svc.Join(ctx, student, code.InvitationCode)
		assert.ErrorIs(t, err, common.ErrInvalidPayload)
	})

	t.Run("teacher joins as co-teacher", func(t *testing.T) {
		_, err := f.svc.Join(ctx, colleague, code.InvitationCode)
		require.NoError(t, err)
		assert.NoError(t, f.svc.RequireTeacher(ctx, class.ID, colleague))

		_, err = f.svc.Join(ctx, colleague, code.InvitationCode)
		assert.ErrorIs(t, err, common.ErrInvalidPayload)
	})

	t.Run("student moves to another class", func(t *testing.T) {
		other, err := f.svc.Create(ctx, colleague, ClassRequest{Name: "Class 2"})
		require.NoError(t, err)
		otherCode, err := f.svc.InvitationCode(ctx, colleague, other.ID)
		require.NoError(t, err)

		_, err = f.svc.Join(ctx, student, otherCode.InvitationCode)
		require.NoError(t, err)

		first, err := f.svc.Get(ctx, class.ID)
		require.NoError(t, err)
		assert.Empty(t, first.Students)
	})

	assert.Contains(t, f.publisher.types(), model.EventClassJoined)
}

func TestClassService_DeleteDetachesStudents(t *testing.T) {
	f := newClassFixture()
	ctx := context.Background()
	owner := seedUser(f.store, "Owner", model.RoleTeacher)
	student := seedUser(f.store, "Student", model.RoleStudent)
	class, err := f.svc.Create(ctx, owner, ClassRequest{Name: "Class 1"})
	require.NoError(t, err)
	code, err := f.svc.InvitationCode(ctx, owner, class.ID)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, student, code.InvitationCode)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, owner, class.ID))

	reloaded, err := f.store.Users().FindByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.ClassID)
	_, err = f.svc.Get(ctx, class.ID)
	assert.ErrorIs(t, err, common.ErrInvalidPayload)
}
