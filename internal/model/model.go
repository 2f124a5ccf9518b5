package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OptionCount is the fixed number of answer slots in a question.
const OptionCount = 4

// NoAnswer marks an unanswered question. It never equals a valid option index.
const NoAnswer = -1

// Courses lists the course ids that have a content directory and a roster file.
var Courses = []int{2, 3}

// Directory naming conventions inside the data root.
const (
	StudentsDir    = "Students"
	courseSuffix   = "kurs"
	LabPrefix      = "lab"
	BankPrefix     = "bank"
	QuestionExt    = ".txt"
	RosterExt      = ".txt"
	courseDirFmt   = "%d" + courseSuffix
	rosterFileFmt  = "%d" + RosterExt
	logicalPathSep = "/"
)

// CourseDir returns the directory name of a course, e.g. "2kurs".
func CourseDir(course int) string {
	return fmt.Sprintf(courseDirFmt, course)
}

// RosterFile returns the logical path of a course roster, e.g. "Students/2.txt".
func RosterFile(course int) string {
	return StudentsDir + logicalPathSep + fmt.Sprintf(rosterFileFmt, course)
}

// JoinPath joins logical path segments with forward slashes.
func JoinPath(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, logicalPathSep)
}

// BankPath returns the logical path of a question bank.
func BankPath(course int, lab, bank string) string {
	return JoinPath(CourseDir(course), lab, bank)
}

// IsKnownCourse reports whether id is one of Courses.
func IsKnownCourse(id int) bool {
	for _, c := range Courses {
		if c == id {
			return true
		}
	}
	return false
}

// FileItem is a single entry returned by a directory listing.
type FileItem struct {
	Name        string     `json:"name"`
	IsDirectory bool       `json:"isDirectory"`
	Path        string     `json:"path"`
	Extension   string     `json:"extension,omitempty"`
	Size        int64      `json:"size,omitempty"`
	Modified    *time.Time `json:"modified,omitempty"`
}

// FileType classifies a file for the viewer.
type FileType string

const (
	FileTypeDirectory FileType = "directory"
	FileTypeImage     FileType = "image"
	FileTypeText      FileType = "text"
	FileTypePDF       FileType = "pdf"
	FileTypeUnknown   FileType = "unknown"
)

// Course is derived from a "{id}kurs" directory.
type Course struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
	Labs []Lab  `json:"labs"`
}

// Lab is a "lab*" directory inside a course.
type Lab struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Banks []Bank `json:"banks"`
}

// Bank is a "bank*" directory inside a lab.
type Bank struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	QuestionsCount int    `json:"questionsCount"`
}

// Structure is the Course→Lab→Bank index plus any branches that could not be read.
type Structure struct {
	Courses  []Course `json:"courses"`
	Warnings []string `json:"warnings,omitempty"`
}

// Question is one parsed question file.
type Question struct {
	ID            string              `json:"id"`
	Text          string              `json:"text"`
	Options       [OptionCount]string `json:"options"`
	CorrectAnswer int                 `json:"correctAnswer"`
	Points        int                 `json:"points"`
	ImagePath     string              `json:"imagePath,omitempty"`
	ImageData     string              `json:"imageData,omitempty"`
	BankName      string              `json:"bankName"`
}

// FilledOptions counts the non-empty options.
func (q Question) FilledOptions() int {
	n := 0
	for _, o := range q.Options {
		if strings.TrimSpace(o) != "" {
			n++
		}
	}
	return n
}

// Usable reports whether the question can be put into a test.
func (q Question) Usable() bool {
	return strings.TrimSpace(q.Text) != "" && q.FilledOptions() >= 2
}

// Public returns a copy without the answer key, for handing to the answering surface.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:        q.ID,
		Text:      q.Text,
		Options:   q.Options,
		Points:    q.Points,
		ImageData: q.ImageData,
		BankName:  q.BankName,
	}
}

// PublicQuestion is a Question without its correct answer.
type PublicQuestion struct {
	ID        string              `json:"id"`
	Text      string              `json:"text"`
	Options   [OptionCount]string `json:"options"`
	Points    int                 `json:"points"`
	ImageData string              `json:"imageData,omitempty"`
	BankName  string              `json:"bankName"`
}

// Student is one roster row.
type Student struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Group    string `json:"group"`
	Course   int    `json:"course"`
}

// Test is an ordered set of sampled questions for a course and lab. It is never persisted.
type Test struct {
	ID        string     `json:"id"`
	Course    int        `json:"course"`
	Lab       string     `json:"lab"`
	Questions []Question `json:"questions"`
	CreatedAt time.Time  `json:"createdAt"`
}

// PublicTest is a Test as shown to the student.
type PublicTest struct {
	ID        string           `json:"id"`
	Course    int              `json:"course"`
	Lab       string           `json:"lab"`
	Questions []PublicQuestion `json:"questions"`
}

// Public strips the answer keys.
func (t Test) Public() PublicTest {
	pt := PublicTest{ID: t.ID, Course: t.Course, Lab: t.Lab}
	for _, q := range t.Questions {
		pt.Questions = append(pt.Questions, q.Public())
	}
	return pt
}

// SubmittedAnswer is the student's choice for one question, keyed by the question identity.
type SubmittedAnswer struct {
	QuestionID     string `json:"questionId"`
	BankName       string `json:"bankName"`
	SelectedAnswer int    `json:"selectedAnswer"`
}

// Submission is a completed answer sheet for a pending test.
type Submission struct {
	TestID  string            `json:"testId"`
	Student Student           `json:"student"`
	Answers []SubmittedAnswer `json:"answers"`
}

// AnswerDetail is one line of the correctness trail.
type AnswerDetail struct {
	QuestionID     string `json:"questionId"`
	SelectedAnswer int    `json:"selectedAnswer"`
	IsCorrect      bool   `json:"isCorrect"`
}

// TestResult is an immutable record in the result log.
type TestResult struct {
	ID          string         `json:"id"`
	StudentID   string         `json:"studentId"`
	StudentName string         `json:"studentName"`
	Group       string         `json:"group"`
	Course      int            `json:"course"`
	Lab         string         `json:"lab"`
	Score       int            `json:"score"`
	MaxScore    int            `json:"maxScore"`
	Percentage  float64        `json:"percentage"`
	CompletedAt time.Time      `json:"completedAt"`
	Answers     []AnswerDetail `json:"answers"`
}

// UnmarshalJSON also accepts the fullName/testName/date field names written by older clients.
func (r *TestResult) UnmarshalJSON(data []byte) error {
	type plain TestResult
	aux := struct {
		*plain
		FullName string     `json:"fullName"`
		TestName string     `json:"testName"`
		Date     *time.Time `json:"date"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.StudentName == "" {
		r.StudentName = aux.FullName
	}
	if r.Lab == "" {
		r.Lab = aux.TestName
	}
	if r.CompletedAt.IsZero() && aux.Date != nil {
		r.CompletedAt = *aux.Date
	}
	return nil
}

// ResultFilter narrows a result listing. Zero values match everything.
type ResultFilter struct {
	Course    int
	StudentID string
}

// Match reports whether r passes the filter.
func (f ResultFilter) Match(r TestResult) bool {
	if f.Course != 0 && r.Course != f.Course {
		return false
	}
	if f.StudentID != "" && r.StudentID != f.StudentID {
		return false
	}
	return true
}

// ParseCourseDir extracts the course id from a directory name like "3kurs".
func ParseCourseDir(name string) (int, bool) {
	for _, c := range Courses {
		if name == CourseDir(c) {
			return c, true
		}
	}
	return 0, false
}
