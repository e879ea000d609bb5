package notifications

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\$\{\{([a-zA-Z0-9_]+)\}\}`)

type segment struct {
	literal string
	attr    string
}

// Template is a text with ${{attribute}} placeholders, validated at parse time.
type Template struct {
	raw      string
	segments []segment
}

// ParseTemplate parses text and rejects placeholders naming unknown item attributes.
// The returned error is a *domain.ConfigurationError attributed to component.
func ParseTemplate(component, text string) (*Template, error) {
	t := &Template{raw: text}

	last := 0
	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		if !domain.IsAttribute(name) {
			return nil, &domain.ConfigurationError{
				Component: component,
				Reason:    fmt.Sprintf("unknown placeholder ${{%s}}, allowed: %s", name, strings.Join(domain.Attributes(), ", ")),
				Err:       ErrTemplate,
			}
		}
		if m[0] > last {
			t.segments = append(t.segments, segment{literal: text[last:m[0]]})
		}
		t.segments = append(t.segments, segment{attr: name})
		last = m[1]
	}
	if last < len(text) {
		t.segments = append(t.segments, segment{literal: text[last:]})
	}

	return t, nil
}

// MustParseTemplate is like ParseTemplate but panics on error. Use it for built-in defaults.
func MustParseTemplate(component, text string) *Template {
	t, err := ParseTemplate(component, text)
	if err != nil {
		panic(err)
	}
	return t
}

// Render substitutes every placeholder with the item's attribute value.
func (t *Template) Render(item domain.Item, now time.Time) string {
	return t.RenderEscaped(item, now, nil)
}

// RenderEscaped is like Render but passes every substituted value through escape.
func (t *Template) RenderEscaped(item domain.Item, now time.Time, escape func(string) string) string {
	var b strings.Builder
	for _, s := range t.segments {
		if s.attr == "" {
			b.WriteString(s.literal)
			continue
		}
		v, _ := item.Attribute(s.attr, now)
		if escape != nil {
			v = escape(v)
		}
		b.WriteString(v)
	}
	return b.String()
}

// Empty reports whether the template has no content.
func (t *Template) Empty() bool {
	return t == nil || t.raw == ""
}

func (t *Template) String() string {
	return t.raw
}
