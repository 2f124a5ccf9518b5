// Package scoring grades answer sheets against the questions of a test.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/pavelanni/labquiz/internal/model"
)

// ErrUnknownQuestion is returned when an answer refers to a question that is not in the test.
var ErrUnknownQuestion = errors.New("answer for a question not in the test")

// Result is the outcome of grading one sheet. Every question counts one point toward MaxScore.
type Result struct {
	Score      int
	MaxScore   int
	Percentage float64
	Details    []model.AnswerDetail
}

// Score grades selected[i] against questions[i]. Missing entries count as unanswered.
func Score(questions []model.Question, selected []int) Result {
	res := Result{MaxScore: len(questions), Details: make([]model.AnswerDetail, 0, len(questions))}
	for i, q := range questions {
		answer := model.NoAnswer
		if i < len(selected) {
			answer = selected[i]
		}
		res.add(q, answer)
	}
	res.Percentage = Percentage(res.Score, res.MaxScore)
	return res
}

type key struct{ bank, id string }

// ScoreByID grades answers matched to questions by bank and question id, so the order
// the answers arrive in does not matter. Questions without an answer are unanswered.
// Details follow the question order.
func ScoreByID(questions []model.Question, answers []model.SubmittedAnswer) (Result, error) {
	selected := make(map[key]int, len(answers))
	known := make(map[key]bool, len(questions))
	for _, q := range questions {
		known[key{q.BankName, q.ID}] = true
	}
	for _, a := range answers {
		k := key{a.BankName, a.QuestionID}
		if !known[k] {
			return Result{}, fmt.Errorf("%s/%s: %w", a.BankName, a.QuestionID, ErrUnknownQuestion)
		}
		selected[k] = a.SelectedAnswer
	}

	res := Result{MaxScore: len(questions), Details: make([]model.AnswerDetail, 0, len(questions))}
	for _, q := range questions {
		answer, ok := selected[key{q.BankName, q.ID}]
		if !ok {
			answer = model.NoAnswer
		}
		res.add(q, answer)
	}
	res.Percentage = Percentage(res.Score, res.MaxScore)
	return res, nil
}

func (r *Result) add(q model.Question, answer int) {
	correct := answer != model.NoAnswer && answer == q.CorrectAnswer
	if correct {
		r.Score++
	}
	r.Details = append(r.Details, model.AnswerDetail{
		QuestionID:     q.ID,
		SelectedAnswer: answer,
		IsCorrect:      correct,
	})
}

// Percentage rounds score/maxScore to a whole percent. It is 0 when maxScore is 0.
func Percentage(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return math.Round(float64(score) * 100 / float64(maxScore))
}
