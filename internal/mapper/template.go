package mapper

import (
	"regexp"
	"strings"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

var placeholderRE = regexp.MustCompile(`\{([^{}]+)\}`)

// Template is a parsed From template.
type Template struct {
	source string
	names  []string
}

// ParseTemplate extracts {Placeholder} names from src. Placeholders may be
// dotted paths into nested values.
func ParseTemplate(src string) Template {
	t := Template{source: src}
	for _, m := range placeholderRE.FindAllStringSubmatch(src, -1) {
		t.names = append(t.names, strings.TrimSpace(m[1]))
	}
	return t
}

// Placeholders returns the field names the template reads.
func (t Template) Placeholders() []string {
	return t.names
}

// Resolve substitutes every placeholder with the record's value for it.
// Missing fields resolve to "".
func (t Template) Resolve(rec ir.Record) string {
	if len(t.names) == 0 {
		return t.source
	}
	return placeholderRE.ReplaceAllStringFunc(t.source, func(m string) string {
		name := strings.TrimSpace(m[1 : len(m)-1])
		return ir.FormatScalar(lookupField(rec, name))
	})
}

func lookupField(rec ir.Record, name string) any {
	if v, ok := rec[name]; ok {
		return v
	}
	if strings.Contains(name, ".") {
		if v, ok := ir.LookupPath(rec, name); ok {
			return v
		}
	}
	return nil
}
