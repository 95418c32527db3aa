package ledger

import (
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Rules bounds the text fields of an opinion. Lengths count runes of the
// trimmed value.
type Rules struct {
	QuestionMin         int
	QuestionMax         int
	RequireQuestionMark bool
	AnswerMin           int
	AnswerMax           int
	DescriptionMax      int
	LinkMax             int
	MaxCategories       int
	Categories          []string
}

// DefaultCategories is the fixed taxonomy.
var DefaultCategories = []string{
	"Crypto", "Politics", "Science", "Technology", "Sports", "Entertainment",
	"Culture", "Web", "Social Media", "Other",
}

// DefaultRules returns the production limits.
func DefaultRules() Rules {
	return Rules{
		QuestionMin:         10,
		QuestionMax:         120,
		RequireQuestionMark: true,
		AnswerMin:           3,
		AnswerMax:           40,
		DescriptionMax:      120,
		LinkMax:             260,
		MaxCategories:       3,
		Categories:          DefaultCategories,
	}
}

// CheckQuestion validates and normalizes question text.
func (r Rules) CheckQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	n := utf8.RuneCountInString(q)
	switch {
	case n == 0:
		return "", domain.Fail(domain.QuestionEmpty)
	case n < r.QuestionMin:
		return "", domain.Fail(domain.QuestionTooShort, "length", n, "min", r.QuestionMin)
	case n > r.QuestionMax:
		return "", domain.Fail(domain.QuestionTooLong, "length", n, "max", r.QuestionMax)
	case r.RequireQuestionMark && !strings.HasSuffix(q, "?"):
		return "", domain.Fail(domain.QuestionMark, "question", q)
	}
	return q, nil
}

// CheckAnswer validates and normalizes an answer with its description.
func (r Rules) CheckAnswer(answer, description string) (string, string, error) {
	answer = strings.TrimSpace(answer)
	description = strings.TrimSpace(description)
	n := utf8.RuneCountInString(answer)
	if n == 0 {
		return "", "", domain.Fail(domain.AnswerEmpty)
	}
	if n < r.AnswerMin || n > r.AnswerMax {
		return "", "", domain.Fail(domain.AnswerLength, "length", n, "min", r.AnswerMin, "max", r.AnswerMax)
	}
	if d := utf8.RuneCountInString(description); d > r.DescriptionMax {
		return "", "", domain.Fail(domain.DescriptionTooLong, "length", d, "max", r.DescriptionMax)
	}
	return answer, description, nil
}

// CheckLink validates a supporting link.
func (r Rules) CheckLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if n := utf8.RuneCountInString(link); n > r.LinkMax {
		return "", domain.Fail(domain.LinkTooLong, "length", n, "max", r.LinkMax)
	}
	return link, nil
}

// CheckCategories validates 1..MaxCategories distinct taxonomy members.
func (r Rules) CheckCategories(cats []string) ([]string, error) {
	if len(cats) == 0 {
		return nil, domain.Fail(domain.NoCategories)
	}
	if len(cats) > r.MaxCategories {
		return nil, domain.Fail(domain.TooManyCategories, "count", len(cats), "max", r.MaxCategories)
	}
	allowed := make(map[string]bool, len(r.Categories))
	for _, c := range r.Categories {
		allowed[c] = true
	}
	seen := make(map[string]bool, len(cats))
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		c = strings.TrimSpace(c)
		if !allowed[c] {
			return nil, domain.Fail(domain.InvalidCategory, "category", c)
		}
		if seen[c] {
			return nil, domain.Fail(domain.DuplicateCategory, "category", c)
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}
