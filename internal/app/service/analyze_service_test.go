package service

import (
	"context"
	"testing"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository/memrepo"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shanghai = time.FixedZone("CST", 8*3600)

func TestBuildDayHistogram(t *testing.T) {
	now := time.Date(2024, 5, 20, 15, 30, 0, 0, shanghai)
	created := []time.Time{
		now.Add(-time.Hour),                            // today
		time.Date(2024, 5, 20, 0, 0, 0, 0, shanghai),   // today, midnight
		time.Date(2024, 5, 19, 23, 59, 0, 0, shanghai), // yesterday
		time.Date(2024, 5, 14, 0, 0, 1, 0, shanghai),   // six days ago
		time.Date(2024, 5, 12, 12, 0, 0, 0, shanghai),  // eight days ago
		now.Add(time.Minute),                           // future
		time.Date(2024, 5, 19, 17, 0, 0, 0, time.UTC),  // 2024-05-20 01:00 local
	}

	got := BuildDayHistogram(now, created, shanghai)

	assert.Len(t, got, HistogramDays)
	assert.Equal(t, 3, got["2024-05-20"])
	assert.Equal(t, 1, got["2024-05-19"])
	assert.Equal(t, 0, got["2024-05-18"])
	assert.Equal(t, 1, got["2024-05-14"])
	_, ok := got["2024-05-12"]
	assert.False(t, ok)
}

func TestBuildDayHistogramEmpty(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, shanghai)
	got := BuildDayHistogram(now, nil, shanghai)

	want := model.DayCounts{
		"2024-03-01": 0, "2024-02-29": 0, "2024-02-28": 0, "2024-02-27": 0,
		"2024-02-26": 0, "2024-02-25": 0, "2024-02-24": 0,
	}
	assert.Equal(t, want, got)
	assert.Equal(t, time.Date(2024, 2, 24, 0, 0, 0, 0, shanghai), HistogramStart(now, shanghai))
}

type analyzeFixture struct {
	store    *memrepo.Store
	subjects map[string]*model.Subject
	classes  *ClassService
	chat     *fakeChat
	svc      *AnalyzeService
	now      time.Time
}

func newAnalyzeFixture() *analyzeFixture {
	store := memrepo.NewStore()
	f := &analyzeFixture{
		store:    store,
		subjects: seedSubjects(store),
		chat:     &fakeChat{},
		now:      time.Date(2024, 5, 20, 15, 30, 0, 0, shanghai),
	}
	f.classes = NewClassService(store.Classes(), store.Users(), store.Transactor(), &fakeLocker{}, &fakePublisher{}, testLog)
	f.svc = NewAnalyzeService(AnalyzeServiceDeps{
		AnalyticsRepo: store.Analytics(),
		ProblemRepo:   store.Problems(),
		OCRRepo:       store.OCR(),
		SubjectRepo:   store.Subjects(),
		TagRepo:       store.Tags(),
		UserRepo:      store.Users(),
		ClassRepo:     store.Classes(),
		Classes:       f.classes,
		Chat:          f.chat,
		PerPage:       6,
		Location:      shanghai,
		Now:           func() time.Time { return f.now },
	}, testLog)
	return f
}

// addProblem stores a problem created at the given time with the named tags.
func (f *analyzeFixture) addProblem(t *testing.T, owner *model.User, subject string, createdAt time.Time, tags ...string) *model.Problem {
	t.Helper()
	ctx := context.Background()
	p := &model.Problem{
		ID:          uuid.NewString(),
		CreatedAt:   createdAt,
		Content:     "boxes/" + uuid.NewString() + ".png",
		SubjectID:   f.subjects[subject].ID,
		OwnerID:     owner.ID,
		OCRResultID: uuid.NewString(),
	}
	require.NoError(t, f.store.Problems().Create(ctx, nil, p))
	var ids []string
	for _, name := range tags {
		tag, err := f.store.Tags().FindOrCreate(ctx, nil, p.SubjectID, name)
		require.NoError(t, err)
		ids = append(ids, tag.ID)
	}
	require.NoError(t, f.store.Problems().AddTags(ctx, nil, p.ID, ids))
	return p
}

func (f *analyzeFixture) classWith(t *testing.T, teacher *model.User, students ...*model.User) *model.Class {
	t.Helper()
	ctx := context.Background()
	class, err := f.classes.Create(ctx, teacher, ClassRequest{Name: "Class"})
	require.NoError(t, err)
	code, err := f.classes.InvitationCode(ctx, teacher, class.ID)
	require.NoError(t, err)
	for _, s := range students {
		_, err := f.classes.Join(ctx, s, code.InvitationCode)
		require.NoError(t, err)
	}
	return class
}

func TestAnalyzeService_Overview(t *testing.T) {
	f := newAnalyzeFixture()
	ctx := context.Background()
	student := seedUser(f.store, "Student", model.RoleStudent)
	other := seedUser(f.store, "Other", model.RoleStudent)

	f.addProblem(t, student, "数学", f.now.Add(-time.Hour))
	f.addProblem(t, student, "数学", f.now.AddDate(0, 0, -1))
	f.addProblem(t, student, "英语", f.now.AddDate(0, 0, -10))
	f.addProblem(t, other, "数学", f.now.Add(-time.Hour))

	overview, err := f.svc.Overview(ctx, f.svc.SelfScope(student))
	require.NoError(t, err)

	assert.Equal(t, 3, overview.ProblemsCnt)
	assert.Equal(t, 2, overview.SubjectsCnt["数学"])
	assert.Equal(t, 1, overview.SubjectsCnt["英语"])
	assert.Equal(t, 0, overview.SubjectsCnt["物理"])
	assert.Len(t, overview.SubjectsCnt, len(DefaultSubjects))
	assert.Equal(t, 1, overview.DateCnt["2024-05-20"])
	assert.Equal(t, 1, overview.DateCnt["2024-05-19"])
	assert.Len(t, overview.DateCnt, HistogramDays)
}

func TestAnalyzeService_SubjectOverview(t *testing.T) {
	f := newAnalyzeFixture()
	ctx := context.Background()
	student := seedUser(f.store, "Student", model.RoleStudent)
	f.addProblem(t, student, "数学", f.now.Add(-time.Hour), "algebra", "geometry")
	f.addProblem(t, student, "数学", f.now.AddDate(0, 0, -9), "algebra")

	other := seedUser(f.store, "Other", model.RoleStudent)
	f.addProblem(t, other, "数学", f.now.Add(-time.Hour), "calculus")

	math := f.subjects["数学"]
	overview, err := f.svc.SubjectOverview(ctx, f.svc.SelfScope(student), math.ID)
	require.NoError(t, err)

	assert.Equal(t, math.ID, overview.Subject.ID)
	assert.Equal(t, 2, overview.ProblemsCnt)
	require.Contains(t, overview.TagsCnt, "algebra")
	assert.Equal(t, 2, overview.TagsCnt["algebra"].Cnt)
	assert.Equal(t, 1, overview.TagsCnt["algebra"].Date["2024-05-20"])
	assert.Equal(t, 1, overview.TagsCnt["geometry"].Cnt)

	calculus, ok := overview.TagsCnt["calculus"]
	require.True(t, ok, "tags of the subject without problems in scope are reported")
	assert.Equal(t, 0, calculus.Cnt)
	assert.Len(t, calculus.Date, HistogramDays)

	_, err = f.svc.SubjectOverview(ctx, f.svc.SelfScope(student), "bad")
	assert.ErrorIs(t, err, common.ErrInvalidPayload)
}

func TestAnalyzeService_StudentScope(t *testing.T) {
	f := newAnalyzeFixture()
	ctx := context.Background()
	teacher := seedUser(f.store, "Teacher", model.RoleTeacher)
	stranger := seedUser(f.store, "Stranger", model.RoleTeacher)
	student := seedUser(f.store, "Student", model.RoleStudent)
	f.classWith(t, teacher, student)

	scope, err := f.svc.StudentScope(ctx, teacher, student.ID)
	require.NoError(t, err)
	assert.Equal(t, student.ID, scope.OwnerID)

	_, err = f.svc.StudentScope(ctx, stranger, student.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = f.svc.StudentScope(ctx, teacher, stranger.ID)
	assert.ErrorIs(t, err, common.ErrInvalidPayload)

	_, err = f.svc.StudentScope(ctx, teacher, "bad")
	assert.ErrorIs(t, err, common.ErrInvalidPayload)
}

func TestAnalyzeService_ClassOverviewAndLatest(t *testing.T) {
	f := newAnalyzeFixture()
	ctx := context.Background()
	teacher := seedUser(f.store, "Teacher", model.RoleTeacher)
	alice := seedUser(f.store, "Alice", model.RoleStudent)
	bob := seedUser(f.store, "Bob", model.RoleStudent)
	outsider := seedUser(f.store, "Outsider", model.RoleStudent)
	class := f.classWith(t, teacher, alice, bob)

	older := f.addProblem(t, alice, "数学", f.now.AddDate(0, 0, -2))
	newer := f.addProblem(t, bob, "数学", f.now.Add(-time.Minute))
	f.addProblem(t, outsider, "数学", f.now.Add(-time.Minute))

	scope, err := f.svc.ClassScope(ctx, teacher, class.ID)
	require.NoError(t, err)

	overview, err := f.svc.ClassOverview(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 2, overview.ProblemsCnt)
	assert.Equal(t, 2, overview.StudentsCnt)
	assert.Equal(t, 1, overview.TeachersCnt)

	latest, err := f.svc.Latest(ctx, scope)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, newer.ID, latest[0].ID)
	assert.Equal(t, older.ID, latest[1].ID)

	stranger := seedUser(f.store, "Stranger", model.RoleTeacher)
	_, err = f.svc.ClassScope(ctx, stranger, class.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestAnalyzeService_TagProblems(t *testing.T) {
	f := newAnalyzeFixture()
	ctx := context.Background()
	student := seedUser(f.store, "Student", model.RoleStudent)
	tagged := f.addProblem(t, student, "数学", f.now.Add(-time.Hour), "algebra")
	f.addProblem(t, student, "数学", f.now.Add(-time.Minute), "geometry")

	tag, err := f.store.Tags().FindOrCreate(ctx, nil, f.subjects["数学"].ID, "algebra")
	require.NoError(t, err)

	page, err := f.svc.TagProblems(ctx, f.svc.SelfScope(student), tag.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "algebra", page.Tag.Name)
	assert.Equal(t, 1, page.TotalPages)
	require.Len(t, page.Problems, 1)
	assert.Equal(t, tagged.ID, page.Problems[0].ID)
}

func TestAnalyzeService_AdvicePrompts(t *testing.T) {
	f := newAnalyzeFixture()
	ctx := context.Background()
	teacher := seedUser(f.store, "Teacher", model.RoleTeacher)
	student := seedUser(f.store, "Alice", model.RoleStudent)
	class := f.classWith(t, teacher, student)
	for i := 0; i < 7; i++ {
		f.addProblem(t, student, "数学", f.now.Add(-time.Duration(i)*time.Hour), "algebra")
	}
	tag, err := f.store.Tags().FindOrCreate(ctx, nil, f.subjects["数学"].ID, "algebra")
	require.NoError(t, err)

	_, err = f.svc.TagAdvice(ctx, f.svc.SelfScope(student), tag.ID)
	require.NoError(t, err)
	classScope, err := f.svc.ClassScope(ctx, teacher, class.ID)
	require.NoError(t, err)
	_, err = f.svc.SubjectAdvice(ctx, classScope, f.subjects["数学"].ID)
	require.NoError(t, err)

	require.Len(t, f.chat.prompts, 2)
	self, classwide := f.chat.prompts[0], f.chat.prompts[1]

	assert.Equal(t, studentTagSystemPrompt, self.System)
	assert.Contains(t, self.User, "algebra")
	assert.NotContains(t, self.User, "Student Alice")

	assert.Equal(t, classSubjectSystemPrompt, classwide.System)
	assert.Contains(t, classwide.User, "Student Alice")
	assert.Contains(t, classwide.User, "数学")
}
