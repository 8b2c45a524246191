package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository/memrepo"
	"zhicuoti/internal/platform/ai"
	"zhicuoti/internal/platform/storage"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
)

var testLog = zerolog.Nop()

type fakeLocker struct {
	mu       sync.Mutex
	acquired []string
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	l.acquired = append(l.acquired, key)
	l.mu.Unlock()
	return func(context.Context) error { return nil }, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, common.NotFound("file %s not found", key)
	}
	return &storage.Object{
		Body:        io.NopCloser(bytes.NewReader(data)),
		Size:        int64(len(data)),
		ContentType: storage.ContentType(key),
	}, nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

type fakeOCR struct {
	analysis *model.OCRAnalysis
	err      error
}

func (f *fakeOCR) Analyze(context.Context, []byte, string) (*model.OCRAnalysis, error) {
	return f.analysis, f.err
}

type fakeClassifier struct {
	label string
	err   error
}

func (f *fakeClassifier) Classify(context.Context, string) (string, error) {
	return f.label, f.err
}

type predictCall struct {
	minProba float64
	maxTags  int
}

// fakePredictor answers each call with the next entry of answers.
type fakePredictor struct {
	answers [][]model.TagPrediction
	calls   []predictCall
}

func (f *fakePredictor) Predict(_ context.Context, _ string, minProba float64, maxTags int) ([]model.TagPrediction, error) {
	f.calls = append(f.calls, predictCall{minProba: minProba, maxTags: maxTags})
	if len(f.calls) > len(f.answers) {
		return nil, nil
	}
	return f.answers[len(f.calls)-1], nil
}

type sliceStream struct {
	chunks []string
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error { return nil }

type fakeChat struct {
	prompts []ai.Prompt
	chunks  []string
}

func (f *fakeChat) StreamCompletion(_ context.Context, p ai.Prompt) (ai.Stream, error) {
	f.prompts = append(f.prompts, p)
	return &sliceStream{chunks: append([]string(nil), f.chunks...)}, nil
}

type fakeCleanup struct {
	jobs []model.CleanupJob
	err  error
}

func (f *fakeCleanup) Enqueue(_ context.Context, job model.CleanupJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type publishedEvent struct {
	eventType string
	data      map[string]any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(_ context.Context, eventType string, data map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{eventType: eventType, data: data})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

// seedSubjects stores the default subjects and returns them by name.
func seedSubjects(store *memrepo.Store) map[string]*model.Subject {
	out := make(map[string]*model.Subject, len(DefaultSubjects))
	for _, name := range DefaultSubjects {
		subj := &model.Subject{ID: uuid.NewString(), Name: name, Slug: slug.Make(name)}
		_ = store.Subjects().Ensure(context.Background(), subj)
		out[name] = subj
	}
	return out
}

func seedUser(store *memrepo.Store, name string, role model.UserRole) *model.User {
	u := &model.User{
		ID:          uuid.NewString(),
		Name:        name,
		Role:        role,
		PhoneNumber: "138" + uuid.NewString()[:8],
	}
	_ = store.Users().Create(context.Background(), nil, u)
	return u
}
