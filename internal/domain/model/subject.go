package model

type Subject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type SubjectWithRelations struct {
	Subject
	Tags     []Tag        `json:"tags"`
	Teachers []UserPublic `json:"teachers"`
}

type Tag struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	SubjectID string   `json:"-"`
	Subject   *Subject `json:"subject,omitempty"`
}

type TagWithProblems struct {
	Tag
	Problems []Problem `json:"problems"`
}

// TagPrediction is one ranked output of a tag predictor.
type TagPrediction struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
}
