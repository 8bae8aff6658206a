package form

import (
	"fmt"
	"strings"
)

// RuleList is a repeatable list of manual mapping rows.
type RuleList struct {
	rows []Rule
}

// Add appends an empty-or-filled row and returns its index.
func (l *RuleList) Add(rule Rule) int {
	l.rows = append(l.rows, rule)
	return len(l.rows) - 1
}

// Remove deletes the row at index i. Out-of-range indexes are ignored.
func (l *RuleList) Remove(i int) {
	if i < 0 || i >= len(l.rows) {
		return
	}
	l.rows = append(l.rows[:i], l.rows[i+1:]...)
}

// Len returns the number of rows, including incomplete ones.
func (l *RuleList) Len() int { return len(l.rows) }

// Rules returns the complete rows in order, upper-cased.
// Rows missing either column are skipped, as the service does.
func (l *RuleList) Rules() []Rule {
	out := make([]Rule, 0, len(l.rows))
	for _, r := range l.rows {
		src := strings.ToUpper(strings.TrimSpace(r.SourceColumn))
		dst := strings.ToUpper(strings.TrimSpace(r.TemplateColumn))
		if src == "" || dst == "" {
			continue
		}
		out = append(out, Rule{SourceColumn: src, TemplateColumn: dst})
	}
	return out
}

// ParseRule reads a "SRC=DST" pair such as "A=C".
func ParseRule(raw string) (Rule, error) {
	src, dst, ok := strings.Cut(raw, "=")
	if !ok {
		return Rule{}, fmt.Errorf("rule %q: expected SOURCE=TEMPLATE", raw)
	}
	src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
	if src == "" || dst == "" {
		return Rule{}, fmt.Errorf("rule %q: both columns are required", raw)
	}
	return Rule{SourceColumn: strings.ToUpper(src), TemplateColumn: strings.ToUpper(dst)}, nil
}
