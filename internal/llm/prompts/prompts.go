// Package prompts renders the prompt used to draft new questions.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/labquiz/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

const maxTopicRunes = 2000

var topicTagRegex = regexp.MustCompile(`(?i)</?\s*topic\b[^>]*>`)

// Difficulty selects the kind of questions the model is asked for.
type Difficulty string

const (
	// DifficultyBasic asks for recall questions.
	DifficultyBasic Difficulty = "basic"
	// DifficultyStandard is the default.
	DifficultyStandard Difficulty = "standard"
	// DifficultyAdvanced asks for application questions.
	DifficultyAdvanced Difficulty = "advanced"
)

var validDifficulties = map[Difficulty]bool{
	DifficultyBasic:    true,
	DifficultyStandard: true,
	DifficultyAdvanced: true,
}

// IsValidDifficulty checks if a difficulty name is valid.
func IsValidDifficulty(d string) bool {
	return validDifficulties[Difficulty(d)]
}

var languages = map[string]string{
	"ru": "Russian",
	"en": "English",
}

// DraftData holds template data for the drafting prompt.
type DraftData struct {
	Topic      string
	Count      int
	Difficulty Difficulty
	Language   string
	MaxOptions int
}

var (
	loadOnce  sync.Once
	loadErr   error
	draftTmpl *template.Template
)

func load() error {
	loadOnce.Do(func() {
		draftTmpl, loadErr = template.ParseFS(templateFS, "templates/draft.txt")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse prompt template: %w", loadErr)
		}
	})
	return loadErr
}

// BuildDraftPrompt renders the drafting prompt. lang is a language code such as "ru";
// unknown codes fall back to Russian, the language of the question files.
func BuildDraftPrompt(topic string, count int, difficulty Difficulty, lang string) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	if !validDifficulties[difficulty] {
		return "", fmt.Errorf("invalid difficulty %q", difficulty)
	}
	language, ok := languages[lang]
	if !ok {
		language = languages["ru"]
	}

	data := DraftData{
		Topic:      sanitizeTopic(topic),
		Count:      count,
		Difficulty: difficulty,
		Language:   language,
		MaxOptions: model.OptionCount,
	}
	var buf bytes.Buffer
	if err := draftTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeTopic(topic string) string {
	topic = topicTagRegex.ReplaceAllString(topic, "")
	topic = strings.TrimSpace(topic)
	if utf8.RuneCountInString(topic) > maxTopicRunes {
		topic = string([]rune(topic)[:maxTopicRunes])
	}
	return topic
}
