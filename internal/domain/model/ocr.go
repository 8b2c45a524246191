package model

import "time"

// OCRResult owns its candidate boxes through OCRBox.OCRResultID and points
// at the chosen one through ChosenBoxID. A chosen box is never a candidate.
type OCRResult struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"` // object key of the preprocessed image
	OwnerID     string    `json:"-"`
	ProblemID   *string   `json:"problem_id"`
	ChosenBoxID *string   `json:"-"`
	CreatedAt   time.Time `json:"-"`

	Boxes     []OCRBox `json:"boxes"`
	ChosenBox *OCRBox  `json:"chosen_box"`
}

type OCRBox struct {
	ID           string  `json:"id"`
	X1           int     `json:"x1"`
	Y1           int     `json:"y1"`
	X2           int     `json:"x2"`
	Y2           int     `json:"y2"`
	DetectedText string  `json:"detected_text"`
	OCRResultID  *string `json:"-"`
}

// DetectedBox is what the OCR collaborator hands back for a single region.
type DetectedBox struct {
	X1, Y1, X2, Y2 int
	Text           string
	Image          []byte
	Extension      string
}

type OCRAnalysis struct {
	Preprocessed          []byte
	PreprocessedExtension string
	Boxes                 []DetectedBox
}
