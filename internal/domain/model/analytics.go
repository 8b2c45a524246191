package model

// ProblemScope narrows problem queries. Empty fields are not applied.
type ProblemScope struct {
	OwnerID   string
	ClassID   string // owner is a student of this class
	SubjectID string
	TagID     string
}

// DayCounts maps YYYY-MM-DD to the number of problems created that day.
type DayCounts map[string]int

type Overview struct {
	ProblemsCnt int            `json:"problems_cnt"`
	SubjectsCnt map[string]int `json:"subjects_cnt"`
	DateCnt     DayCounts      `json:"date_cnt"`
}

type ClassOverview struct {
	Overview
	StudentsCnt int `json:"students_cnt"`
	TeachersCnt int `json:"teachers_cnt"`
}

type TagCount struct {
	Cnt   int       `json:"cnt"`
	TagID string    `json:"tag_id"`
	Date  DayCounts `json:"date"`
}

type SubjectOverview struct {
	Subject     Subject             `json:"subject"`
	ProblemsCnt int                 `json:"problems_cnt"`
	DateCnt     DayCounts           `json:"date_cnt"`
	TagsCnt     map[string]TagCount `json:"tags_cnt"`
}

type LatestSubjectProblems struct {
	Subject  Subject   `json:"subject"`
	Problems []Problem `json:"problems"`
}

type TagProblemPage struct {
	Tag        Tag       `json:"tag"`
	Problems   []Problem `json:"problems"`
	TotalPages int       `json:"total_pages"`
}
