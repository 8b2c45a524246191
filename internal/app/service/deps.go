package service

import (
	"context"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/platform/ai"
	"zhicuoti/internal/platform/storage"
)

// Locker serializes work on a key across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) (*storage.Object, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type CleanupEnqueuer interface {
	Enqueue(ctx context.Context, job model.CleanupJob) error
}

type OCRAnalyzer interface {
	Analyze(ctx context.Context, image []byte, extension string) (*model.OCRAnalysis, error)
}

type SubjectClassifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

type TagPredictor interface {
	Predict(ctx context.Context, text string, minProba float64, maxTags int) ([]model.TagPrediction, error)
}

type ChatCompleter interface {
	StreamCompletion(ctx context.Context, p ai.Prompt) (ai.Stream, error)
}
