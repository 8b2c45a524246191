package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository"
	"zhicuoti/internal/platform/ai"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HistogramDays    = 7
	dayLayout        = "2006-01-02"
	adviceSampleSize = 5
)

// dayStart is local midnight of the day containing t.
func dayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// HistogramStart is the earliest instant counted by BuildDayHistogram.
func HistogramStart(now time.Time, loc *time.Location) time.Time {
	return dayStart(now, loc).AddDate(0, 0, -(HistogramDays - 1))
}

// BuildDayHistogram counts timestamps into seven calendar-day buckets ending
// today. Bucket 0 is [today's midnight, now]; bucket i is the whole day i days
// before. Every bucket is present even when empty.
func BuildDayHistogram(now time.Time, created []time.Time, loc *time.Location) model.DayCounts {
	midnight := dayStart(now, loc)
	counts := make(model.DayCounts, HistogramDays)
	for i := 0; i < HistogramDays; i++ {
		counts[midnight.AddDate(0, 0, -i).Format(dayLayout)] = 0
	}
	for _, t := range created {
		if t.After(now) {
			continue
		}
		key := t.In(loc).Format(dayLayout)
		if _, ok := counts[key]; ok {
			counts[key]++
		}
	}
	return counts
}

// AnalysisScope is the set of problems an analytics call looks at. Class
// scopes are presented to the model with each problem's author.
type AnalysisScope struct {
	model.ProblemScope
}

func (s AnalysisScope) isClass() bool {
	return s.ClassID != ""
}

type AnalyzeService struct {
	analyticsRepo repository.AnalyticsRepository
	subjectRepo   repository.SubjectRepository
	tagRepo       repository.TagRepository
	userRepo      repository.UserRepository
	classRepo     repository.ClassRepository
	classes       *ClassService
	loader        problemLoader
	chat          ChatCompleter
	perPage       int
	loc           *time.Location
	now           func() time.Time
	log           zerolog.Logger
}

type AnalyzeServiceDeps struct {
	AnalyticsRepo repository.AnalyticsRepository
	ProblemRepo   repository.ProblemRepository
	OCRRepo       repository.OCRRepository
	SubjectRepo   repository.SubjectRepository
	TagRepo       repository.TagRepository
	UserRepo      repository.UserRepository
	ClassRepo     repository.ClassRepository
	Classes       *ClassService
	Chat          ChatCompleter
	PerPage       int
	Location      *time.Location
	Now           func() time.Time
}

func NewAnalyzeService(deps AnalyzeServiceDeps, log zerolog.Logger) *AnalyzeService {
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	perPage := deps.PerPage
	if perPage <= 0 {
		perPage = 6
	}
	return &AnalyzeService{
		analyticsRepo: deps.AnalyticsRepo,
		subjectRepo:   deps.SubjectRepo,
		tagRepo:       deps.TagRepo,
		userRepo:      deps.UserRepo,
		classRepo:     deps.ClassRepo,
		classes:       deps.Classes,
		loader:        problemLoader{problemRepo: deps.ProblemRepo, tagRepo: deps.TagRepo, ocrRepo: deps.OCRRepo},
		chat:          deps.Chat,
		perPage:       perPage,
		loc:           loc,
		now:           now,
		log:           log.With().Str("service", "analyze").Logger(),
	}
}

// SelfScope covers the student's own problems.
func (s *AnalyzeService) SelfScope(student *model.User) AnalysisScope {
	return AnalysisScope{model.ProblemScope{OwnerID: student.ID}}
}

// StudentScope covers another student's problems. The teacher must teach a
// class the student belongs to.
func (s *AnalyzeService) StudentScope(ctx context.Context, teacher *model.User, studentID string) (AnalysisScope, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return AnalysisScope{}, common.InvalidPayload("user %s does not exist", studentID)
	}
	student, err := s.userRepo.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return AnalysisScope{}, common.InvalidPayload("user %s does not exist", studentID)
		}
		return AnalysisScope{}, err
	}
	if student.Role != model.RoleStudent {
		return AnalysisScope{}, common.InvalidPayload("user %s is not a student", studentID)
	}
	ok, err := s.userRepo.TeachesStudent(ctx, teacher.ID, student.ID)
	if err != nil {
		return AnalysisScope{}, err
	}
	if !ok {
		return AnalysisScope{}, common.Forbidden("you are not a teacher of this student")
	}
	return AnalysisScope{model.ProblemScope{OwnerID: student.ID}}, nil
}

// ClassScope covers the problems of every student in the class.
func (s *AnalyzeService) ClassScope(ctx context.Context, teacher *model.User, classID string) (AnalysisScope, error) {
	if err := s.classes.RequireTeacher(ctx, classID, teacher); err != nil {
		return AnalysisScope{}, err
	}
	return AnalysisScope{model.ProblemScope{ClassID: classID}}, nil
}

func (s *AnalyzeService) Overview(ctx context.Context, scope AnalysisScope) (*model.Overview, error) {
	total, err := s.analyticsRepo.CountProblems(ctx, scope.ProblemScope)
	if err != nil {
		return nil, err
	}
	bySubject, err := s.analyticsRepo.CountBySubject(ctx, scope.ProblemScope)
	if err != nil {
		return nil, err
	}
	days, err := s.histogram(ctx, scope.ProblemScope)
	if err != nil {
		return nil, err
	}
	return &model.Overview{ProblemsCnt: total, SubjectsCnt: bySubject, DateCnt: days}, nil
}

func (s *AnalyzeService) ClassOverview(ctx context.Context, scope AnalysisScope) (*model.ClassOverview, error) {
	overview, err := s.Overview(ctx, scope)
	if err != nil {
		return nil, err
	}
	students, teachers, err := s.classRepo.CountMembers(ctx, scope.ClassID)
	if err != nil {
		return nil, err
	}
	return &model.ClassOverview{Overview: *overview, StudentsCnt: students, TeachersCnt: teachers}, nil
}

func (s *AnalyzeService) histogram(ctx context.Context, scope model.ProblemScope) (model.DayCounts, error) {
	now := s.now()
	created, err := s.analyticsRepo.CreatedSince(ctx, scope, HistogramStart(now, s.loc))
	if err != nil {
		return nil, err
	}
	return BuildDayHistogram(now, created, s.loc), nil
}

// SubjectOverview reports every tag of the subject, including tags with no
// problems in scope.
func (s *AnalyzeService) SubjectOverview(ctx context.Context, scope AnalysisScope, subjectID string) (*model.SubjectOverview, error) {
	subject, err := s.findSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	inSubject := scope.ProblemScope
	inSubject.SubjectID = subject.ID

	total, err := s.analyticsRepo.CountProblems(ctx, inSubject)
	if err != nil {
		return nil, err
	}
	days, err := s.histogram(ctx, inSubject)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stats, err := s.analyticsRepo.TagStats(ctx, inSubject, HistogramStart(now, s.loc))
	if err != nil {
		return nil, err
	}
	tags, err := s.tagRepo.ListBySubject(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	tagsCnt := make(map[string]model.TagCount, len(tags))
	for _, t := range tags {
		tagsCnt[t.Name] = model.TagCount{TagID: t.ID, Date: BuildDayHistogram(now, nil, s.loc)}
	}
	for _, st := range stats {
		tagsCnt[st.TagName] = model.TagCount{
			Cnt:   st.Count,
			TagID: st.TagID,
			Date:  BuildDayHistogram(now, st.Recent, s.loc),
		}
	}

	return &model.SubjectOverview{
		Subject:     *subject,
		ProblemsCnt: total,
		DateCnt:     days,
		TagsCnt:     tagsCnt,
	}, nil
}

// Latest returns the newest per_page problems in scope.
func (s *AnalyzeService) Latest(ctx context.Context, scope AnalysisScope) ([]model.Problem, error) {
	problems, _, err := s.loader.list(ctx, scope.ProblemScope, s.perPage, 0)
	return problems, err
}

func (s *AnalyzeService) SubjectLatest(ctx context.Context, scope AnalysisScope, subjectID string) (*model.LatestSubjectProblems, error) {
	subject, err := s.findSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	inSubject := scope.ProblemScope
	inSubject.SubjectID = subject.ID
	problems, _, err := s.loader.list(ctx, inSubject, s.perPage, 0)
	if err != nil {
		return nil, err
	}
	return &model.LatestSubjectProblems{Subject: *subject, Problems: problems}, nil
}

func (s *AnalyzeService) TagProblems(ctx context.Context, scope AnalysisScope, tagID string, page int) (*model.TagProblemPage, error) {
	tag, err := s.findTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	withTag := scope.ProblemScope
	withTag.TagID = tag.ID
	problems, total, err := s.loader.list(ctx, withTag, s.perPage, pageOffset(page, s.perPage))
	if err != nil {
		return nil, err
	}
	return &model.TagProblemPage{Tag: *tag, Problems: problems, TotalPages: totalPages(total, s.perPage)}, nil
}

// TagAdvice streams an analysis of the most recent failures on the tag.
func (s *AnalyzeService) TagAdvice(ctx context.Context, scope AnalysisScope, tagID string) (ai.Stream, error) {
	tag, err := s.findTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	withTag := scope.ProblemScope
	withTag.TagID = tag.ID
	problems, _, err := s.loader.list(ctx, withTag, adviceSampleSize, 0)
	if err != nil {
		return nil, err
	}

	prompt := ai.Prompt{System: studentTagSystemPrompt}
	if scope.isClass() {
		prompt.System = classTagSystemPrompt
		prompt.User = fmt.Sprintf("Students in the class failed on the following problems of tag %s:\n%s\nPlease analyze the cause and suggest how to improve the students' performance on this tag.",
			tag.Name, describeProblems(problems, true))
	} else {
		prompt.User = fmt.Sprintf("The student failed on the following problems related to the tag %s:\n%s\nPlease analyze the cause and suggest how to improve.",
			tag.Name, describeProblems(problems, false))
	}
	s.log.Debug().Str("tag_id", tag.ID).Int("problems", len(problems)).Bool("class", scope.isClass()).Msg("requesting tag advice")
	return s.chat.StreamCompletion(ctx, prompt)
}

// SubjectAdvice streams an analysis of the most recent failures in the subject.
func (s *AnalyzeService) SubjectAdvice(ctx context.Context, scope AnalysisScope, subjectID string) (ai.Stream, error) {
	subject, err := s.findSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	inSubject := scope.ProblemScope
	inSubject.SubjectID = subject.ID
	problems, _, err := s.loader.list(ctx, inSubject, adviceSampleSize, 0)
	if err != nil {
		return nil, err
	}

	prompt := ai.Prompt{System: studentSubjectSystemPrompt}
	if scope.isClass() {
		prompt.System = classSubjectSystemPrompt
		prompt.User = fmt.Sprintf("Students in the class failed on the following problems of subject %s:\n%s\nPlease analyze the cause and suggest how to improve the students' performance in this subject.",
			subject.Name, describeProblems(problems, true))
	} else {
		prompt.User = fmt.Sprintf("The student failed on the following problems of subject %s:\n%s\nPlease analyze the cause and suggest how to improve in this subject.",
			subject.Name, describeProblems(problems, false))
	}
	s.log.Debug().Str("subject_id", subject.ID).Int("problems", len(problems)).Bool("class", scope.isClass()).Msg("requesting subject advice")
	return s.chat.StreamCompletion(ctx, prompt)
}

func (s *AnalyzeService) findSubject(ctx context.Context, subjectID string) (*model.Subject, error) {
	if _, err := uuid.Parse(subjectID); err != nil {
		return nil, common.InvalidPayload("subject %s does not exist", subjectID)
	}
	subject, err := s.subjectRepo.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.InvalidPayload("subject %s does not exist", subjectID)
		}
		return nil, err
	}
	return subject, nil
}

func (s *AnalyzeService) findTag(ctx context.Context, tagID string) (*model.Tag, error) {
	if _, err := uuid.Parse(tagID); err != nil {
		return nil, common.InvalidPayload("tag %s does not exist", tagID)
	}
	tag, err := s.tagRepo.FindByID(ctx, tagID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.InvalidPayload("tag %s does not exist", tagID)
		}
		return nil, err
	}
	return tag, nil
}
