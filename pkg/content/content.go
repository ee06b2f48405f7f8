// Package content defines the data passed between the pipeline's pluggable
// stages: facts extracted from a page, generated content, and validation
// issues.
package content

import (
	"fmt"
	"html"
	"strings"
)

// Spec is one row of a product's characteristics table.
type Spec struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Facts is the structured data extracted from one locale's product page.
type Facts struct {
	Key         string   `json:"key"`
	Locale      string   `json:"locale"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Image       string   `json:"image,omitempty"`
	Specs       []Spec   `json:"specs,omitempty"`
	Advantages  []string `json:"advantages,omitempty"`
}

// Empty reports whether the facts carry nothing to describe.
func (f Facts) Empty() bool {
	return f.Title == "" && f.Description == "" && len(f.Specs) == 0
}

// Source records how a piece of content was produced.
type Source string

const (
	// SourceGenerated is content from a successful generate call.
	SourceGenerated Source = "generated"

	// SourceRepaired is content from the repair fallback.
	SourceRepaired Source = "repaired"

	// SourceFacts is content assembled from extracted facts without a call.
	SourceFacts Source = "facts"
)

// Content is the description produced for one locale.
type Content struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Source Source `json:"source"`
}

// Severity grades a validation issue.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is a validation finding attached to a locale's content.
type Issue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s:%s", i.Severity, i.Code)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// FromFacts assembles content from facts alone. It is what a locale falls
// back to when no generation call could be made.
func FromFacts(f Facts) Content {
	var b strings.Builder
	if f.Description != "" {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(f.Description))
		b.WriteString("</p>")
	}
	if len(f.Advantages) > 0 {
		b.WriteString("<ul>")
		for _, a := range f.Advantages {
			b.WriteString("<li>")
			b.WriteString(html.EscapeString(a))
			b.WriteString("</li>")
		}
		b.WriteString("</ul>")
	}
	if len(f.Specs) > 0 {
		b.WriteString("<ul>")
		for _, s := range f.Specs {
			fmt.Fprintf(&b, "<li>%s: %s</li>", html.EscapeString(s.Name), html.EscapeString(s.Value))
		}
		b.WriteString("</ul>")
	}
	return Content{Title: f.Title, Body: b.String(), Source: SourceFacts}
}
