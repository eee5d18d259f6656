// Package i18n holds the daemon's message catalog and hands out per-language translators
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Bundle is a message catalog with language matching
type Bundle struct {
	catalog *catalog.Builder
	tags    []language.Tag
	matcher language.Matcher
	keys    map[string]bool
}

// New builds the bundle with the built-in translations
func New() *Bundle {
	b := &Bundle{
		catalog: catalog.NewBuilder(),
		keys:    make(map[string]bool),
	}
	english := messages[language.English]
	for _, tag := range supported {
		b.tags = append(b.tags, tag)
		for key, text := range english {
			if translated, ok := messages[tag][key]; ok {
				text = translated
			}
			if err := b.catalog.SetString(tag, key, text); err == nil {
				b.keys[key] = true
			}
		}
	}
	b.matcher = language.NewMatcher(b.tags)
	return b
}

// Languages returns the supported language codes, English first
func (b *Bundle) Languages() []string {
	out := make([]string, 0, len(b.tags))
	for _, tag := range b.tags {
		out = append(out, tag.String())
	}
	return out
}

// Match returns the closest supported language for lang ("de-AT" matches "de")
func (b *Bundle) Match(lang string) language.Tag {
	tag, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	_, idx, _ := b.matcher.Match(tag)
	return b.tags[idx]
}

// Translator returns a lookup function for lang. Unknown keys yield "".
func (b *Bundle) Translator(lang string) func(key string) string {
	p := message.NewPrinter(b.Match(lang), message.Catalog(b.catalog))
	return func(key string) string {
		if !b.keys[key] {
			return ""
		}
		return p.Sprintf(key)
	}
}

// Sprintf formats a catalog message for lang. Unknown keys are formatted as-is.
func (b *Bundle) Sprintf(lang, key string, args ...interface{}) string {
	p := message.NewPrinter(b.Match(lang), message.Catalog(b.catalog))
	return p.Sprintf(key, args...)
}
