package model

import (
	"time"
)

type AnswerType string

const (
	AnswerText  AnswerType = "text"
	AnswerImage AnswerType = "image"
)

type Problem struct {
	ID                 string      `json:"id"`
	CreatedAt          time.Time   `json:"created_at"`
	Content            string      `json:"content"` // object key of the chosen box image
	OriginalAnswer     *string     `json:"original_answer"`
	OriginalAnswerType *AnswerType `json:"original_answer_type"`
	CorrectAnswer      *string     `json:"correct_answer"`
	CorrectAnswerType  *AnswerType `json:"correct_answer_type"`
	SubjectID          string      `json:"-"`
	OwnerID            string      `json:"-"`
	OCRResultID        string      `json:"-"`

	Subject   *Subject    `json:"subject,omitempty"`
	Owner     *UserPublic `json:"owner,omitempty"`
	Tags      []Tag       `json:"tags"`
	OCRResult *OCRResult  `json:"ocr_result,omitempty"`
}

func (p *Problem) TagNames() []string {
	names := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		names = append(names, t.Name)
	}
	return names
}

// ChosenText is the detected text of the box the owner picked.
func (p *Problem) ChosenText() string {
	if p.OCRResult == nil || p.OCRResult.ChosenBox == nil {
		return ""
	}
	return p.OCRResult.ChosenBox.DetectedText
}

type ProblemPage struct {
	Problems   []Problem `json:"problems"`
	TotalPages int       `json:"total_pages"`
}
