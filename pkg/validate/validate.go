// Package validate checks generated content before it is exported. Issues
// are attached to the result and never fail an item.
package validate

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/content"
)

// Issue codes.
const (
	CodeEmptyTitle     = "empty_title"
	CodeEmptyBody      = "empty_body"
	CodeShortBody      = "short_body"
	CodePlaceholder    = "placeholder"
	CodeLocaleMismatch = "locale_mismatch"
)

// DefaultMinBodyLength is the shortest body, in runes of visible text, that
// passes without a warning.
const DefaultMinBodyLength = 200

var placeholders = []string{"lorem ipsum", "todo", "{{", "}}", "[insert", "xxx"}

// Letters used by Ukrainian but not by Russian.
const ukrainianOnly = "іїєґІЇЄҐ"

// Basic runs locale-agnostic structure checks and a Ukrainian/Russian
// script check.
type Basic struct {
	MinBodyLength int
}

// NewBasic creates a validator with the default minimum body length.
func NewBasic() Basic {
	return Basic{MinBodyLength: DefaultMinBodyLength}
}

// Validate returns the issues found in c.
func (b Basic) Validate(_ context.Context, c content.Content, locale string) []content.Issue {
	var issues []content.Issue

	if strings.TrimSpace(c.Title) == "" {
		issues = append(issues, content.Issue{Code: CodeEmptyTitle, Message: "title is empty", Severity: content.SeverityError})
	}

	text := visibleText(c.Body)
	n := utf8.RuneCountInString(text)
	switch {
	case n == 0:
		issues = append(issues, content.Issue{Code: CodeEmptyBody, Message: "body is empty", Severity: content.SeverityError})
	case b.MinBodyLength > 0 && n < b.MinBodyLength:
		issues = append(issues, content.Issue{
			Code:     CodeShortBody,
			Message:  fmt.Sprintf("body has %d characters, want at least %d", n, b.MinBodyLength),
			Severity: content.SeverityWarning,
		})
	}

	lower := strings.ToLower(c.Title + " " + c.Body)
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			issues = append(issues, content.Issue{
				Code:     CodePlaceholder,
				Message:  fmt.Sprintf("contains placeholder %q", p),
				Severity: content.SeverityError,
			})
			break
		}
	}

	if msg := localeMismatch(c.Title+" "+text, locale); msg != "" {
		issues = append(issues, content.Issue{Code: CodeLocaleMismatch, Message: msg, Severity: content.SeverityWarning})
	}

	return issues
}

func localeMismatch(text, locale string) string {
	cyrillic := 0
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			cyrillic++
		}
	}
	if cyrillic == 0 {
		return ""
	}
	hasUkrainian := strings.ContainsAny(text, ukrainianOnly)

	switch strings.ToLower(locale) {
	case "ua", "uk":
		if !hasUkrainian && cyrillic >= 40 {
			return "no Ukrainian-specific letters in Cyrillic text"
		}
	case "ru":
		if hasUkrainian {
			return "Ukrainian letters in Russian text"
		}
	}
	return ""
}

// visibleText strips tags and collapses whitespace.
func visibleText(markup string) string {
	var b strings.Builder
	inTag := false
	for _, r := range markup {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
