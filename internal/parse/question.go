// Package parse reads the plain-text question and roster formats of the data directory.
package parse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pavelanni/labquiz/internal/model"
)

// Field prefixes of the question file format.
const (
	keyText    = "Текст вопроса:"
	keyOption  = "Вариант %d:"
	keyCorrect = "Правильный ответ:"
	keyPoints  = "Баллы:"
	keyImage   = "Изображение:"
)

const defaultPoints = 1

// ErrUnusableQuestion is returned for question files without text or with fewer than two options.
var ErrUnusableQuestion = errors.New("question needs text and at least two options")

var optionKeys = func() [model.OptionCount]string {
	var keys [model.OptionCount]string
	for i := range keys {
		keys[i] = fmt.Sprintf(keyOption, i+1)
	}
	return keys
}()

// Question parses the contents of one question file. id is the file name without
// extension and bank the name of the bank directory it was read from.
// Unknown lines are ignored; field order does not matter.
func Question(content, id, bank string) (model.Question, error) {
	q := model.Question{ID: id, BankName: bank, Points: defaultPoints}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, keyText):
			q.Text = value(line, keyText)
		case strings.HasPrefix(line, keyCorrect):
			q.CorrectAnswer = correctIndex(value(line, keyCorrect))
		case strings.HasPrefix(line, keyPoints):
			q.Points = points(value(line, keyPoints))
		case strings.HasPrefix(line, keyImage):
			q.ImagePath = value(line, keyImage)
		default:
			for i, k := range optionKeys {
				if strings.HasPrefix(line, k) {
					q.Options[i] = value(line, k)
					break
				}
			}
		}
	}

	if !q.Usable() {
		return model.Question{}, fmt.Errorf("%s/%s: %w", bank, id, ErrUnusableQuestion)
	}
	return q, nil
}

// Format writes a question back in the file format read by Question.
// Empty options and an empty image path are omitted.
func Format(q model.Question) string {
	var sb strings.Builder
	sb.WriteString(keyText + " " + q.Text + "\n")
	for i, o := range q.Options {
		if o == "" {
			continue
		}
		sb.WriteString(optionKeys[i] + " " + o + "\n")
	}
	fmt.Fprintf(&sb, "%s %d\n", keyCorrect, q.CorrectAnswer+1)
	points := q.Points
	if points < 1 {
		points = defaultPoints
	}
	fmt.Fprintf(&sb, "%s %d\n", keyPoints, points)
	if q.ImagePath != "" {
		sb.WriteString(keyImage + " " + q.ImagePath + "\n")
	}
	return sb.String()
}

func value(line, key string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, key))
}

// correctIndex converts the 1-based ordinal of the file into a 0-based index.
// Anything that is not an ordinal of an option slot becomes 0.
func correctIndex(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > model.OptionCount {
		return 0
	}
	return n - 1
}

func points(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultPoints
	}
	return n
}
