package handler

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Name is a resource's singular and plural form. The plural is the path
// segment; the singular appears in messages.
type Name struct {
	Singular string
	Plural   string
}

// NewName derives the plural of singular with AsPlural.
func NewName(singular string) Name {
	return Name{Singular: singular, Plural: AsPlural(singular)}
}

// Title is the capitalised singular, e.g. "Item".
func (n Name) Title() string {
	r, size := utf8.DecodeRuneInString(n.Singular)
	if r == utf8.RuneError {
		return n.Singular
	}
	return string(unicode.ToUpper(r)) + n.Singular[size:]
}

// pluralSuffixes is checked in order; the first match wins.
var pluralSuffixes = []struct{ singular, plural string }{
	{"y", "ies"},
	{"ch", "ches"},
	{"sh", "shes"},
	{"s", "ses"},
	{"z", "zes"},
	{"x", "xes"},
	{"fe", "ves"},
	{"f", "ves"},
}

// AsPlural applies English suffix rules: category → categories,
// box → boxes, life → lives, cat → cats.
func AsPlural(singular string) string {
	for _, s := range pluralSuffixes {
		if strings.HasSuffix(singular, s.singular) {
			return strings.TrimSuffix(singular, s.singular) + s.plural
		}
	}
	return singular + "s"
}
