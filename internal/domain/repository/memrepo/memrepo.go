// Package memrepo holds in-memory repositories with the same observable
// behavior as the Postgres ones. Tests use them in place of a database.
package memrepo

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository"

	"github.com/google/uuid"
)

// Store is the shared state behind every repository of this package.
type Store struct {
	mu sync.Mutex

	users         map[string]*model.User
	classes       map[string]*model.Class
	classOrder    []string
	classTeachers map[string]map[string]bool
	subjects      map[string]*model.Subject
	tags          map[string]*model.Tag
	problems      map[string]*model.Problem
	problemTags   map[string][]string
	results       map[string]*model.OCRResult
	boxes         map[string]*model.OCRBox

	// Now stamps new rows. Each call is nudged forward so rows keep a strict order.
	Now  func() time.Time
	last time.Time
}

func NewStore() *Store {
	return &Store{
		users:         make(map[string]*model.User),
		classes:       make(map[string]*model.Class),
		classTeachers: make(map[string]map[string]bool),
		subjects:      make(map[string]*model.Subject),
		tags:          make(map[string]*model.Tag),
		problems:      make(map[string]*model.Problem),
		problemTags:   make(map[string][]string),
		results:       make(map[string]*model.OCRResult),
		boxes:         make(map[string]*model.OCRBox),
		Now:           time.Now,
	}
}

func (s *Store) stamp() time.Time {
	t := s.Now()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// Transactor applies writes immediately and restores the store to its state
// at the start of WithinTx when fn fails. Transactions are not isolated from
// each other.
type Transactor struct {
	s *Store
}

func (s *Store) Transactor() Transactor { return Transactor{s: s} }

func (t Transactor) WithinTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	snap := t.s.snapshot()
	if err := fn(nil); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users         map[string]*model.User
	classes       map[string]*model.Class
	classOrder    []string
	classTeachers map[string]map[string]bool
	subjects      map[string]*model.Subject
	tags          map[string]*model.Tag
	problems      map[string]*model.Problem
	problemTags   map[string][]string
	results       map[string]*model.OCRResult
	boxes         map[string]*model.OCRBox
}

func cloneRows[V any](m map[string]*V) map[string]*V {
	out := make(map[string]*V, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	teachers := make(map[string]map[string]bool, len(s.classTeachers))
	for classID, ids := range s.classTeachers {
		set := make(map[string]bool, len(ids))
		for id, v := range ids {
			set[id] = v
		}
		teachers[classID] = set
	}
	links := make(map[string][]string, len(s.problemTags))
	for id, tagIDs := range s.problemTags {
		links[id] = append([]string(nil), tagIDs...)
	}
	return snapshot{
		users:         cloneRows(s.users),
		classes:       cloneRows(s.classes),
		classOrder:    append([]string(nil), s.classOrder...),
		classTeachers: teachers,
		subjects:      cloneRows(s.subjects),
		tags:          cloneRows(s.tags),
		problems:      cloneRows(s.problems),
		problemTags:   links,
		results:       cloneRows(s.results),
		boxes:         cloneRows(s.boxes),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.classes = snap.classes
	s.classOrder = snap.classOrder
	s.classTeachers = snap.classTeachers
	s.subjects = snap.subjects
	s.tags = snap.tags
	s.problems = snap.problems
	s.problemTags = snap.problemTags
	s.results = snap.results
	s.boxes = snap.boxes
}

func (s *Store) Users() repository.UserRepository         { return userRepo{s} }
func (s *Store) Classes() repository.ClassRepository      { return classRepo{s} }
func (s *Store) Subjects() repository.SubjectRepository   { return subjectRepo{s} }
func (s *Store) Tags() repository.TagRepository           { return tagRepo{s} }
func (s *Store) Problems() repository.ProblemRepository   { return problemRepo{s} }
func (s *Store) OCR() repository.OCRRepository            { return ocrRepo{s} }
func (s *Store) Analytics() repository.AnalyticsRepository { return analyticsRepo{s} }

// ---- users

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, _ *sql.Tx, user *model.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.PhoneNumber == user.PhoneNumber {
			return common.InvalidPayload("phone number %s is already registered", user.PhoneNumber)
		}
	}
	user.CreatedAt = s.stamp()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (r userRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r userRepo) FindByPhone(_ context.Context, phone string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.PhoneNumber == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r userRepo) UpdateProfile(_ context.Context, _ *sql.Tx, user *model.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID != user.ID && u.PhoneNumber == user.PhoneNumber {
			return common.InvalidPayload("phone number %s is already in use", user.PhoneNumber)
		}
	}
	u, ok := s.users[user.ID]
	if !ok {
		return common.ErrNotFound
	}
	u.PhoneNumber = user.PhoneNumber
	u.SubjectID = user.SubjectID
	return nil
}

func (r userRepo) SetClass(_ context.Context, _ *sql.Tx, userID string, classID *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return common.ErrNotFound
	}
	u.ClassID = classID
	return nil
}

func (s *Store) publicInfo(u *model.User) model.UserPublicInfo {
	info := model.UserPublicInfo{UserPublic: u.Public(), PhoneNumber: u.PhoneNumber}
	if u.SubjectID != nil {
		if subj, ok := s.subjects[*u.SubjectID]; ok {
			cp := *subj
			info.Subject = &cp
		}
	}
	return info
}

func sortInfos(infos []model.UserPublicInfo) []model.UserPublicInfo {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (r userRepo) ListClassStudents(_ context.Context, classID string) ([]model.UserPublicInfo, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := []model.UserPublicInfo{}
	for _, u := range s.users {
		if u.Role == model.RoleStudent && u.ClassID != nil && *u.ClassID == classID {
			infos = append(infos, s.publicInfo(u))
		}
	}
	return sortInfos(infos), nil
}

func (r userRepo) ListClassTeachers(_ context.Context, classID string) ([]model.UserPublicInfo, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := []model.UserPublicInfo{}
	for teacherID := range s.classTeachers[classID] {
		if u, ok := s.users[teacherID]; ok {
			infos = append(infos, s.publicInfo(u))
		}
	}
	return sortInfos(infos), nil
}

func (r userRepo) ListSubjectTeachers(_ context.Context, subjectID string) ([]model.UserPublic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.UserPublic{}
	for _, u := range r.s.users {
		if u.Role == model.RoleTeacher && u.SubjectID != nil && *u.SubjectID == subjectID {
			out = append(out, u.Public())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r userRepo) TeachesStudent(_ context.Context, teacherID, studentID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[studentID]
	if !ok || u.ClassID == nil {
		return false, nil
	}
	return r.s.classTeachers[*u.ClassID][teacherID], nil
}

// ---- classes

type classRepo struct{ s *Store }

func (r classRepo) Create(_ context.Context, _ *sql.Tx, class *model.Class) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *class
	r.s.classes[class.ID] = &cp
	r.s.classOrder = append(r.s.classOrder, class.ID)
	return nil
}

func (r classRepo) Update(_ context.Context, _ *sql.Tx, class *model.Class) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.classes[class.ID]
	if !ok {
		return common.ErrNotFound
	}
	c.Name = class.Name
	c.Description = class.Description
	return nil
}

func (r classRepo) Delete(_ context.Context, _ *sql.Tx, id string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ClassID != nil && *u.ClassID == id {
			u.ClassID = nil
		}
	}
	delete(s.classTeachers, id)
	delete(s.classes, id)
	for i, cid := range s.classOrder {
		if cid == id {
			s.classOrder = append(s.classOrder[:i], s.classOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (r classRepo) FindByID(_ context.Context, id string) (*model.Class, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.classes[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r classRepo) FindByInvitationCode(_ context.Context, code string) (*model.Class, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.classes {
		if c.InvitationCode != nil && *c.InvitationCode == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r classRepo) SetInvitationCode(_ context.Context, _ *sql.Tx, id, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.classes[id]
	if !ok || c.InvitationCode != nil {
		return false, nil
	}
	c.InvitationCode = &code
	return true, nil
}

func (r classRepo) AddTeacher(_ context.Context, _ *sql.Tx, classID, teacherID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	members := r.s.classTeachers[classID]
	if members == nil {
		members = make(map[string]bool)
		r.s.classTeachers[classID] = members
	}
	if members[teacherID] {
		return common.InvalidPayload("user already in class")
	}
	members[teacherID] = true
	return nil
}

func (r classRepo) IsTeacher(_ context.Context, classID, teacherID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.classTeachers[classID][teacherID], nil
}

func (r classRepo) ListByTeacher(_ context.Context, teacherID string) ([]model.Class, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Class{}
	for _, id := range r.s.classOrder {
		if r.s.classTeachers[id][teacherID] {
			out = append(out, *r.s.classes[id])
		}
	}
	return out, nil
}

func (r classRepo) CountMembers(_ context.Context, classID string) (int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	students := 0
	for _, u := range r.s.users {
		if u.Role == model.RoleStudent && u.ClassID != nil && *u.ClassID == classID {
			students++
		}
	}
	return students, len(r.s.classTeachers[classID]), nil
}

// ---- subjects

type subjectRepo struct{ s *Store }

func (r subjectRepo) Ensure(_ context.Context, subject *model.Subject) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.subjects {
		if existing.Name == subject.Name {
			return nil
		}
	}
	cp := *subject
	r.s.subjects[subject.ID] = &cp
	return nil
}

func (r subjectRepo) List(_ context.Context) ([]model.Subject, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Subject, 0, len(r.s.subjects))
	for _, subj := range r.s.subjects {
		out = append(out, *subj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (r subjectRepo) FindByID(_ context.Context, id string) (*model.Subject, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	subj, ok := r.s.subjects[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *subj
	return &cp, nil
}

func (r subjectRepo) FindByName(_ context.Context, name string) (*model.Subject, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, subj := range r.s.subjects {
		if subj.Name == name {
			cp := *subj
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

// ---- tags

type tagRepo struct{ s *Store }

func (s *Store) tagView(t *model.Tag) model.Tag {
	cp := *t
	if subj, ok := s.subjects[t.SubjectID]; ok {
		sc := *subj
		cp.Subject = &sc
	}
	return cp
}

func (s *Store) sortedTags(keep func(*model.Tag) bool) []model.Tag {
	out := []model.Tag{}
	for _, t := range s.tags {
		if keep(t) {
			out = append(out, s.tagView(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r tagRepo) List(_ context.Context) ([]model.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedTags(func(*model.Tag) bool { return true }), nil
}

func (r tagRepo) FindByID(_ context.Context, id string) (*model.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tags[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	view := r.s.tagView(t)
	return &view, nil
}

func (r tagRepo) ListBySubject(_ context.Context, subjectID string) ([]model.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedTags(func(t *model.Tag) bool { return t.SubjectID == subjectID }), nil
}

func (r tagRepo) ListUsedBy(_ context.Context, ownerID string) ([]model.Tag, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	used := make(map[string]bool)
	for pid, tagIDs := range s.problemTags {
		if p, ok := s.problems[pid]; ok && p.OwnerID == ownerID {
			for _, id := range tagIDs {
				used[id] = true
			}
		}
	}
	return s.sortedTags(func(t *model.Tag) bool { return used[t.ID] }), nil
}

func (r tagRepo) Search(_ context.Context, query, subjectID string) ([]model.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q := strings.ToLower(query)
	return r.s.sortedTags(func(t *model.Tag) bool {
		if subjectID != "" && t.SubjectID != subjectID {
			return false
		}
		return strings.Contains(strings.ToLower(t.Name), q)
	}), nil
}

func (r tagRepo) FindOrCreate(_ context.Context, _ *sql.Tx, subjectID, name string) (*model.Tag, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tags {
		if t.SubjectID == subjectID && strings.EqualFold(t.Name, name) {
			view := s.tagView(t)
			return &view, nil
		}
	}
	t := &model.Tag{ID: uuid.NewString(), Name: name, SubjectID: subjectID}
	s.tags[t.ID] = t
	view := s.tagView(t)
	return &view, nil
}

func (r tagRepo) ListByProblems(_ context.Context, problemIDs []string) (map[string][]model.Tag, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]model.Tag, len(problemIDs))
	for _, pid := range problemIDs {
		var tags []model.Tag
		for _, id := range s.problemTags[pid] {
			if t, ok := s.tags[id]; ok {
				tags = append(tags, s.tagView(t))
			}
		}
		sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
		if tags != nil {
			out[pid] = tags
		}
	}
	return out, nil
}

// ---- problems

type problemRepo struct{ s *Store }

func (r problemRepo) Create(_ context.Context, _ *sql.Tx, p *model.Problem) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.problems {
		if existing.OCRResultID == p.OCRResultID {
			return common.InvalidPayload("ocr result %s has already been used", p.OCRResultID)
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.stamp()
	}
	cp := *p
	cp.Subject, cp.Owner, cp.Tags, cp.OCRResult = nil, nil, nil, nil
	s.problems[p.ID] = &cp
	return nil
}

func (r problemRepo) UpdateAnswers(_ context.Context, _ *sql.Tx, p *model.Problem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.problems[p.ID]
	if !ok {
		return common.ErrNotFound
	}
	existing.OriginalAnswer = p.OriginalAnswer
	existing.OriginalAnswerType = p.OriginalAnswerType
	existing.CorrectAnswer = p.CorrectAnswer
	existing.CorrectAnswerType = p.CorrectAnswerType
	return nil
}

func (r problemRepo) Delete(_ context.Context, _ *sql.Tx, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.problems, id)
	delete(r.s.problemTags, id)
	return nil
}

func (s *Store) problemView(p *model.Problem) model.Problem {
	cp := *p
	if subj, ok := s.subjects[p.SubjectID]; ok {
		sc := *subj
		cp.Subject = &sc
	}
	if u, ok := s.users[p.OwnerID]; ok {
		pub := u.Public()
		cp.Owner = &pub
	}
	cp.Tags = []model.Tag{}
	return cp
}

func (r problemRepo) FindByID(_ context.Context, id string) (*model.Problem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.problems[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	view := r.s.problemView(p)
	return &view, nil
}

func (s *Store) inScope(p *model.Problem, scope model.ProblemScope) bool {
	if scope.OwnerID != "" && p.OwnerID != scope.OwnerID {
		return false
	}
	if scope.SubjectID != "" && p.SubjectID != scope.SubjectID {
		return false
	}
	if scope.ClassID != "" {
		u, ok := s.users[p.OwnerID]
		if !ok || u.ClassID == nil || *u.ClassID != scope.ClassID {
			return false
		}
	}
	if scope.TagID != "" {
		found := false
		for _, id := range s.problemTags[p.ID] {
			if id == scope.TagID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// scoped returns matching problems, newest first.
func (s *Store) scoped(scope model.ProblemScope) []*model.Problem {
	var out []*model.Problem
	for _, p := range s.problems {
		if s.inScope(p, scope) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r problemRepo) List(_ context.Context, scope model.ProblemScope, limit, offset int) ([]model.Problem, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	matches := s.scoped(scope)
	total := len(matches)
	if limit > 0 {
		if offset > len(matches) {
			offset = len(matches)
		}
		matches = matches[offset:]
		if len(matches) > limit {
			matches = matches[:limit]
		}
	}
	out := make([]model.Problem, 0, len(matches))
	for _, p := range matches {
		out = append(out, s.problemView(p))
	}
	return out, total, nil
}

func (r problemRepo) AddTags(_ context.Context, _ *sql.Tx, problemID string, tagIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := r.s.problemTags[problemID]
	for _, id := range tagIDs {
		dup := false
		for _, e := range existing {
			if e == id {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, id)
		}
	}
	r.s.problemTags[problemID] = existing
	return nil
}

func (r problemRepo) ClearTags(_ context.Context, _ *sql.Tx, problemID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.problemTags, problemID)
	return nil
}

// ---- OCR

type ocrRepo struct{ s *Store }

func (r ocrRepo) CreateResult(_ context.Context, _ *sql.Tx, result *model.OCRResult) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	result.CreatedAt = s.stamp()
	cp := *result
	cp.Boxes, cp.ChosenBox, cp.ProblemID = nil, nil, nil
	s.results[result.ID] = &cp
	return nil
}

func (r ocrRepo) CreateBox(_ context.Context, _ *sql.Tx, box *model.OCRBox) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *box
	r.s.boxes[box.ID] = &cp
	return nil
}

func (s *Store) resultView(res *model.OCRResult) *model.OCRResult {
	cp := *res
	cp.Boxes = []model.OCRBox{}
	for _, b := range s.boxes {
		if b.OCRResultID != nil && *b.OCRResultID == res.ID {
			cp.Boxes = append(cp.Boxes, *b)
		}
	}
	sort.Slice(cp.Boxes, func(i, j int) bool {
		if cp.Boxes[i].Y1 != cp.Boxes[j].Y1 {
			return cp.Boxes[i].Y1 < cp.Boxes[j].Y1
		}
		return cp.Boxes[i].X1 < cp.Boxes[j].X1
	})
	if res.ChosenBoxID != nil {
		if b, ok := s.boxes[*res.ChosenBoxID]; ok {
			bc := *b
			cp.ChosenBox = &bc
		}
	}
	for _, p := range s.problems {
		if p.OCRResultID == res.ID {
			id := p.ID
			cp.ProblemID = &id
		}
	}
	return &cp
}

func (r ocrRepo) FindResultByID(_ context.Context, id string) (*model.OCRResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.results[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return r.s.resultView(res), nil
}

func (r ocrRepo) FindResultsByIDs(_ context.Context, ids []string) (map[string]*model.OCRResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]*model.OCRResult, len(ids))
	for _, id := range ids {
		if res, ok := r.s.results[id]; ok {
			out[id] = r.s.resultView(res)
		}
	}
	return out, nil
}

func (r ocrRepo) FindBoxByID(_ context.Context, id string) (*model.OCRBox, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.boxes[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r ocrRepo) ChooseBox(_ context.Context, _ *sql.Tx, resultID, boxID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.results[resultID]
	if !ok {
		return common.ErrNotFound
	}
	b, ok := r.s.boxes[boxID]
	if !ok {
		return common.ErrNotFound
	}
	b.OCRResultID = nil
	res.ChosenBoxID = &boxID
	return nil
}

func (r ocrRepo) DeleteResult(_ context.Context, _ *sql.Tx, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for bid, b := range r.s.boxes {
		if b.OCRResultID != nil && *b.OCRResultID == id {
			delete(r.s.boxes, bid)
		}
	}
	delete(r.s.results, id)
	return nil
}

func (r ocrRepo) DeleteBox(_ context.Context, _ *sql.Tx, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.boxes, id)
	return nil
}

// ---- analytics

type analyticsRepo struct{ s *Store }

func (r analyticsRepo) CountProblems(_ context.Context, scope model.ProblemScope) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.scoped(scope)), nil
}

func (r analyticsRepo) CountBySubject(_ context.Context, scope model.ProblemScope) (map[string]int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.subjects))
	for _, subj := range s.subjects {
		counts[subj.Name] = 0
	}
	for _, p := range s.scoped(scope) {
		if subj, ok := s.subjects[p.SubjectID]; ok {
			counts[subj.Name]++
		}
	}
	return counts, nil
}

func (r analyticsRepo) CreatedSince(_ context.Context, scope model.ProblemScope, since time.Time) ([]time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []time.Time
	for _, p := range r.s.scoped(scope) {
		if !p.CreatedAt.Before(since) {
			out = append(out, p.CreatedAt)
		}
	}
	return out, nil
}

func (r analyticsRepo) TagStats(_ context.Context, scope model.ProblemScope, since time.Time) ([]repository.TagStat, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	index := make(map[string]int)
	var stats []repository.TagStat
	for _, p := range s.scoped(scope) {
		for _, id := range s.problemTags[p.ID] {
			t, ok := s.tags[id]
			if !ok {
				continue
			}
			i, seen := index[id]
			if !seen {
				i = len(stats)
				index[id] = i
				stats = append(stats, repository.TagStat{TagID: t.ID, TagName: t.Name})
			}
			stats[i].Count++
			if !p.CreatedAt.Before(since) {
				stats[i].Recent = append(stats[i].Recent, p.CreatedAt)
			}
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].TagName < stats[j].TagName })
	return stats, nil
}
