package i18n

import (
	"context"
	"strings"

	"github.com/pavelanni/labquiz/internal/model"
)

// CourseName returns the display name of a course, e.g. "2 курс".
func CourseName(ctx context.Context, id int) string {
	return Td(ctx, "CourseName", map[string]any{"N": id})
}

// LabName turns "lab1-2" into "Лабораторная 1.2".
func LabName(ctx context.Context, id string) string {
	n := strings.ReplaceAll(strings.TrimPrefix(id, model.LabPrefix), "-", ".")
	return Td(ctx, "LabName", map[string]any{"N": n})
}

// BankName turns "bank3" into "Банк 3".
func BankName(ctx context.Context, id string) string {
	return Td(ctx, "BankName", map[string]any{"N": strings.TrimPrefix(id, model.BankPrefix)})
}

// NameStructure fills in the display names of every course, lab and bank.
func NameStructure(ctx context.Context, st model.Structure) model.Structure {
	for i := range st.Courses {
		c := &st.Courses[i]
		c.Name = CourseName(ctx, c.ID)
		for j := range c.Labs {
			l := &c.Labs[j]
			l.Name = LabName(ctx, l.ID)
			for k := range l.Banks {
				l.Banks[k].Name = BankName(ctx, l.Banks[k].ID)
			}
		}
	}
	return st
}
