package parse

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/labquiz/internal/model"
)

const rosterDelim = "|"

// Roster parses a course roster. Lines starting with '#' and blank lines are skipped,
// "Name | Group" lines are students, and any other line sets the current group used by
// students whose group token is empty.
func Roster(content string, course int) []model.Student {
	students := []model.Student{}
	currentGroup := ""

	for n, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !strings.Contains(line, rosterDelim) {
			currentGroup = line
			continue
		}

		parts := strings.Split(line, rosterDelim)
		name := strings.TrimSpace(parts[0])
		group := strings.TrimSpace(parts[1])
		if name == "" {
			slog.Warn("skipping roster row without a name", "course", course, "line", n+1)
			continue
		}
		if group == "" {
			group = currentGroup
		}
		students = append(students, model.Student{
			ID:       "student_" + uuid.NewString(),
			FullName: name,
			Group:    group,
			Course:   course,
		})
	}
	return students
}
