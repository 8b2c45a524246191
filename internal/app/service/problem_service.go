package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository"
	"zhicuoti/internal/platform/ai"
	"zhicuoti/internal/platform/database"
	"zhicuoti/internal/platform/events"
	"zhicuoti/internal/platform/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
)

var imageExtensions = []string{"jpg", "jpeg", "png"}

// subjectLabels maps classifier labels to subject names.
var subjectLabels = map[string]string{
	"ENG":      "英语",
	"MATH":     "数学",
	"ZHENGZHI": "政治",
	"BIOLOGY":  "生物",
}

const (
	defaultTagThreshold  = 0.5
	fallbackTagThreshold = 0.1
	fallbackMaxTags      = 2
)

type ProblemServiceDeps struct {
	ProblemRepo repository.ProblemRepository
	OCRRepo     repository.OCRRepository
	TagRepo     repository.TagRepository
	SubjectRepo repository.SubjectRepository
	Tx          database.Transactor
	Store       ObjectStore
	OCR         OCRAnalyzer
	Classifier  SubjectClassifier
	Predictors  map[string]TagPredictor // keyed by subject name
	Chat        ChatCompleter
	Cleanup     CleanupEnqueuer
	Events      events.Publisher
	PerPage     int
}

type ProblemService struct {
	problemRepo repository.ProblemRepository
	ocrRepo     repository.OCRRepository
	tagRepo     repository.TagRepository
	subjectRepo repository.SubjectRepository
	tx          database.Transactor
	store       ObjectStore
	ocr         OCRAnalyzer
	classifier  SubjectClassifier
	predictors  map[string]TagPredictor
	chat        ChatCompleter
	cleanup     CleanupEnqueuer
	events      events.Publisher
	perPage     int
	loader      problemLoader
	validate    *validator.Validate
	log         zerolog.Logger
}

func NewProblemService(deps ProblemServiceDeps, log zerolog.Logger) *ProblemService {
	perPage := deps.PerPage
	if perPage <= 0 {
		perPage = 6
	}
	return &ProblemService{
		problemRepo: deps.ProblemRepo,
		ocrRepo:     deps.OCRRepo,
		tagRepo:     deps.TagRepo,
		subjectRepo: deps.SubjectRepo,
		tx:          deps.Tx,
		store:       deps.Store,
		ocr:         deps.OCR,
		classifier:  deps.Classifier,
		predictors:  deps.Predictors,
		chat:        deps.Chat,
		cleanup:     deps.Cleanup,
		events:      deps.Events,
		perPage:     perPage,
		loader:      problemLoader{problemRepo: deps.ProblemRepo, tagRepo: deps.TagRepo, ocrRepo: deps.OCRRepo},
		validate:    newValidator(),
		log:         log.With().Str("service", "problem").Logger(),
	}
}

type CreateProblemRequest struct {
	OriginalAnswer     *string           `json:"original_answer"`
	OriginalAnswerType *model.AnswerType `json:"original_answer_type" validate:"omitempty,oneof=text image"`
	CorrectAnswer      *string           `json:"correct_answer"`
	CorrectAnswerType  *model.AnswerType `json:"correct_answer_type" validate:"omitempty,oneof=text image"`
	OCRResultID        string            `json:"ocr_result_id" validate:"required,uuid"`
	OCRBoxID           string            `json:"ocr_box_id" validate:"required,uuid"`
}

type EditProblemRequest struct {
	OriginalAnswer     *string           `json:"original_answer"`
	OriginalAnswerType *model.AnswerType `json:"original_answer_type" validate:"omitempty,oneof=text image"`
	CorrectAnswer      *string           `json:"correct_answer"`
	CorrectAnswerType  *model.AnswerType `json:"correct_answer_type" validate:"omitempty,oneof=text image"`
	Tags               []string          `json:"tags"`
}

func boxObjectKey(boxID, ext string) string {
	return fmt.Sprintf("boxes/%s.%s", boxID, ext)
}

func normalizeExtension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

func allowedImage(ext string) bool {
	for _, e := range imageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// OCR stores the upload, runs the OCR collaborator and persists the result
// with one candidate box per detected region.
func (s *ProblemService) OCR(ctx context.Context, owner *model.User, filename string, data []byte) (*model.OCRResult, error) {
	ext := normalizeExtension(filename)
	if !allowedImage(ext) {
		return nil, common.InvalidPayload("unsupported image type %q, expected one of %s", ext, strings.Join(imageExtensions, ", "))
	}
	if len(data) == 0 {
		return nil, common.InvalidPayload("image is empty")
	}

	uploadID := uuid.NewString()
	name := slug.Make(strings.TrimSuffix(path.Base(filename), path.Ext(filename)))
	if name == "" {
		name = "image"
	}
	uploadKey := fmt.Sprintf("upload/%s-%s.%s", uploadID, name, ext)
	if err := s.store.Put(ctx, uploadKey, data); err != nil {
		return nil, err
	}

	analysis, err := s.ocr.Analyze(ctx, data, ext)
	if err != nil {
		return nil, fmt.Errorf("ocr failed for %s: %w", uploadKey, err)
	}

	preprocessedExt := analysis.PreprocessedExtension
	if !allowedImage(preprocessedExt) {
		preprocessedExt = ext
	}
	preprocessedKey := fmt.Sprintf("upload/%s-preprocessed.%s", uploadID, preprocessedExt)
	if err := s.store.Put(ctx, preprocessedKey, analysis.Preprocessed); err != nil {
		return nil, err
	}

	result := &model.OCRResult{
		ID:        uuid.NewString(),
		Content:   preprocessedKey,
		OwnerID:   owner.ID,
		CreatedAt: time.Now(),
		Boxes:     make([]model.OCRBox, 0, len(analysis.Boxes)),
	}
	for _, detected := range analysis.Boxes {
		box := model.OCRBox{
			ID:           uuid.NewString(),
			X1:           detected.X1,
			Y1:           detected.Y1,
			X2:           detected.X2,
			Y2:           detected.Y2,
			DetectedText: detected.Text,
			OCRResultID:  &result.ID,
		}
		boxExt := strings.ToLower(detected.Extension)
		if !allowedImage(boxExt) {
			boxExt = ext
		}
		if err := s.store.Put(ctx, boxObjectKey(box.ID, boxExt), detected.Image); err != nil {
			return nil, err
		}
		result.Boxes = append(result.Boxes, box)
	}

	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.ocrRepo.CreateResult(ctx, tx, result); err != nil {
			return err
		}
		for i := range result.Boxes {
			if err := s.ocrRepo.CreateBox(ctx, tx, &result.Boxes[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save ocr result: %w", err)
	}

	s.log.Info().Str("ocr_result_id", result.ID).Int("boxes", len(result.Boxes)).Msg("ocr result stored")
	return result, nil
}

// Create turns the chosen OCR box into a problem. Every check and every
// collaborator call happens before the transaction opens.
func (s *ProblemService) Create(ctx context.Context, owner *model.User, req CreateProblemRequest) (*model.Problem, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}

	result, err := s.ocrRepo.FindResultByID(ctx, req.OCRResultID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.InvalidPayload("ocr result %s does not exist", req.OCRResultID)
		}
		return nil, err
	}
	box, err := s.ocrRepo.FindBoxByID(ctx, req.OCRBoxID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.InvalidPayload("ocr box %s does not exist", req.OCRBoxID)
		}
		return nil, err
	}
	if result.OwnerID != owner.ID {
		return nil, common.Forbidden("you are not the owner of this ocr result")
	}
	if result.ChosenBoxID != nil || result.ProblemID != nil {
		return nil, common.InvalidPayload("ocr result %s has already been used", result.ID)
	}
	if box.OCRResultID == nil || *box.OCRResultID != result.ID {
		return nil, common.InvalidPayload("ocr box %s does not belong to ocr result %s", box.ID, result.ID)
	}

	subject, err := s.classify(ctx, box.DetectedText)
	if err != nil {
		return nil, err
	}
	content, err := s.resolveBoxContent(ctx, box.ID)
	if err != nil {
		return nil, err
	}
	tagNames, err := s.predictTags(ctx, subject.Name, box.DetectedText)
	if err != nil {
		return nil, err
	}

	problem := &model.Problem{
		ID:                 uuid.NewString(),
		Content:            content,
		OriginalAnswer:     req.OriginalAnswer,
		OriginalAnswerType: req.OriginalAnswerType,
		CorrectAnswer:      req.CorrectAnswer,
		CorrectAnswerType:  req.CorrectAnswerType,
		SubjectID:          subject.ID,
		OwnerID:            owner.ID,
		OCRResultID:        result.ID,
	}

	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		// Detach before designating so the box is never both candidate and chosen.
		if err := s.ocrRepo.ChooseBox(ctx, tx, result.ID, box.ID); err != nil {
			return err
		}
		if err := s.problemRepo.Create(ctx, tx, problem); err != nil {
			return err
		}
		return s.attachTags(ctx, tx, problem, tagNames)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("problem_id", problem.ID).Str("subject", subject.Name).Strs("tags", tagNames).Msg("problem created")
	s.publish(ctx, model.EventProblemCreated, map[string]any{
		"problem_id": problem.ID,
		"owner_id":   owner.ID,
		"subject_id": subject.ID,
		"tags":       tagNames,
	})
	return s.loader.get(ctx, problem.ID)
}

func (s *ProblemService) classify(ctx context.Context, text string) (*model.Subject, error) {
	label, err := s.classifier.Classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("subject classification failed: %w", err)
	}
	name, ok := subjectLabels[label]
	if !ok {
		return nil, common.PredictionFailed("unable to identify the subject of the problem")
	}
	subject, err := s.subjectRepo.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.PredictionFailed("subject %s is not available", name)
		}
		return nil, err
	}
	return subject, nil
}

// resolveBoxContent finds the stored crop of the box by probing the known extensions.
func (s *ProblemService) resolveBoxContent(ctx context.Context, boxID string) (string, error) {
	for _, ext := range imageExtensions {
		key := boxObjectKey(boxID, ext)
		ok, err := s.store.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}
	return "", common.InvalidPayload("unable to identify the image of ocr box %s", boxID)
}

// predictTags asks the subject's predictor at the default threshold and
// retries once with a lower threshold, capped at two tags, when nothing passes.
func (s *ProblemService) predictTags(ctx context.Context, subjectName, text string) ([]string, error) {
	predictor, ok := s.predictors[subjectName]
	if !ok {
		return nil, nil
	}
	predictions, err := predictor.Predict(ctx, text, defaultTagThreshold, 0)
	if err != nil {
		return nil, fmt.Errorf("tag prediction failed: %w", err)
	}
	if len(predictions) == 0 {
		predictions, err = predictor.Predict(ctx, text, fallbackTagThreshold, fallbackMaxTags)
		if err != nil {
			return nil, fmt.Errorf("tag prediction failed: %w", err)
		}
	}
	names := make([]string, 0, len(predictions))
	for _, p := range predictions {
		names = append(names, p.Name)
	}
	return normalizeTagNames(names), nil
}

// normalizeTagNames trims names and drops blanks and case-insensitive duplicates, keeping order.
func normalizeTagNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}

func (s *ProblemService) attachTags(ctx context.Context, tx *sql.Tx, problem *model.Problem, names []string) error {
	tagIDs := make([]string, 0, len(names))
	for _, name := range names {
		tag, err := s.tagRepo.FindOrCreate(ctx, tx, problem.SubjectID, name)
		if err != nil {
			return err
		}
		tagIDs = append(tagIDs, tag.ID)
	}
	return s.problemRepo.AddTags(ctx, tx, problem.ID, tagIDs)
}

func (s *ProblemService) find(ctx context.Context, problemID string) (*model.Problem, error) {
	if _, err := uuid.Parse(problemID); err != nil {
		return nil, common.InvalidPayload("problem %s does not exist", problemID)
	}
	p, err := s.loader.get(ctx, problemID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.InvalidPayload("problem %s does not exist", problemID)
		}
		return nil, err
	}
	return p, nil
}

func (s *ProblemService) findOwned(ctx context.Context, owner *model.User, problemID string) (*model.Problem, error) {
	p, err := s.find(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != owner.ID {
		return nil, common.Forbidden("you are not the owner of this problem")
	}
	return p, nil
}

// Edit replaces the answers and the whole tag set.
func (s *ProblemService) Edit(ctx context.Context, owner *model.User, problemID string, req EditProblemRequest) (*model.Problem, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	problem, err := s.findOwned(ctx, owner, problemID)
	if err != nil {
		return nil, err
	}

	problem.OriginalAnswer = req.OriginalAnswer
	problem.OriginalAnswerType = req.OriginalAnswerType
	problem.CorrectAnswer = req.CorrectAnswer
	problem.CorrectAnswerType = req.CorrectAnswerType
	names := normalizeTagNames(req.Tags)

	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.problemRepo.UpdateAnswers(ctx, tx, problem); err != nil {
			return err
		}
		if err := s.problemRepo.ClearTags(ctx, tx, problem.ID); err != nil {
			return err
		}
		return s.attachTags(ctx, tx, problem, names)
	})
	if err != nil {
		return nil, err
	}
	return s.loader.get(ctx, problem.ID)
}

func (s *ProblemService) Get(ctx context.Context, problemID string) (*model.Problem, error) {
	return s.find(ctx, problemID)
}

func (s *ProblemService) ListMine(ctx context.Context, student *model.User, page int) (*model.ProblemPage, error) {
	problems, total, err := s.loader.list(ctx, model.ProblemScope{OwnerID: student.ID}, s.perPage, pageOffset(page, s.perPage))
	if err != nil {
		return nil, err
	}
	return &model.ProblemPage{Problems: problems, TotalPages: totalPages(total, s.perPage)}, nil
}

// Delete removes the problem and its OCR rows in one transaction. The stored
// images are handed to the cleanup worker afterwards.
func (s *ProblemService) Delete(ctx context.Context, owner *model.User, problemID string) error {
	problem, err := s.findOwned(ctx, owner, problemID)
	if err != nil {
		return err
	}

	keys := []string{problem.Content}
	var chosenBoxID *string
	if r := problem.OCRResult; r != nil {
		keys = append(keys, r.Content)
		for _, b := range r.Boxes {
			for _, ext := range imageExtensions {
				keys = append(keys, boxObjectKey(b.ID, ext))
			}
		}
		chosenBoxID = r.ChosenBoxID
	}

	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.problemRepo.Delete(ctx, tx, problem.ID); err != nil {
			return err
		}
		if err := s.ocrRepo.DeleteResult(ctx, tx, problem.OCRResultID); err != nil {
			return err
		}
		if chosenBoxID != nil {
			return s.ocrRepo.DeleteBox(ctx, tx, *chosenBoxID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	job := model.CleanupJob{
		ID:         uuid.NewString(),
		Reason:     model.CleanupReasonProblemDeleted,
		ObjectKeys: keys,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.cleanup.Enqueue(ctx, job); err != nil {
		s.log.Error().Err(err).Str("problem_id", problem.ID).Strs("keys", keys).Msg("failed to enqueue storage cleanup")
	}

	s.log.Info().Str("problem_id", problem.ID).Msg("problem deleted")
	s.publish(ctx, model.EventProblemDeleted, map[string]any{
		"problem_id": problem.ID,
		"owner_id":   owner.ID,
	})
	return nil
}

// Solution streams an explanation of the problem image.
func (s *ProblemService) Solution(ctx context.Context, problemID string) (ai.Stream, error) {
	problem, err := s.find(ctx, problemID)
	if err != nil {
		return nil, err
	}
	obj, err := s.store.Get(ctx, problem.Content)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()
	image, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", problem.Content, err)
	}

	return s.chat.StreamCompletion(ctx, ai.Prompt{
		System:    solutionSystemPrompt,
		User:      fmt.Sprintf("Solve the following problem. Related tags: %s", strings.Join(problem.TagNames(), ", ")),
		Image:     image,
		ImageType: storage.ContentType(problem.Content),
	})
}

func (s *ProblemService) publish(ctx context.Context, eventType string, data map[string]any) {
	if err := s.events.Publish(ctx, eventType, data); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
