// Package locale loads the embedded message files and hands out per-language
// translators for the status texts.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Bundle holds all loaded languages
type Bundle struct {
	bundle    *i18n.Bundle
	fallback  string
	tags      []language.Tag
	matcher   language.Matcher
	languages map[string]*Translator
}

// Translator localizes messages for one language
type Translator struct {
	lang      string
	localizer *i18n.Localizer
}

// NewBundle loads every embedded message file. defaultLang is used when a
// requested language is not available; it must be one of the loaded languages.
func NewBundle(defaultLang string) (*Bundle, error) {
	if defaultLang == "" {
		defaultLang = "en"
	}
	defaultTag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return nil, err
	}
	b := &Bundle{
		bundle:    bundle,
		fallback:  defaultTag.String(),
		languages: make(map[string]*Translator),
	}
	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		lang := strings.TrimSuffix(path.Base(file), path.Ext(file))
		b.tags = append(b.tags, language.Make(lang))
		b.languages[lang] = &Translator{
			lang:      lang,
			localizer: i18n.NewLocalizer(bundle, lang, b.fallback),
		}
	}
	if _, ok := b.languages[b.fallback]; !ok {
		return nil, fmt.Errorf("default language %q has no message file", defaultLang)
	}
	b.matcher = language.NewMatcher(b.tags)

	log.Debugf("Loaded %d languages, default %s", len(b.languages), b.fallback)
	return b, nil
}

// Default returns the language used when nothing else matches
func (b *Bundle) Default() string {
	return b.fallback
}

// Supported reports whether lang has a message file
func (b *Bundle) Supported(lang string) bool {
	_, ok := b.languages[lang]
	return ok
}

// Languages returns the codes of all loaded languages
func (b *Bundle) Languages() []string {
	out := make([]string, 0, len(b.tags))
	for _, t := range b.tags {
		out = append(out, t.String())
	}
	return out
}

// Match picks the best loaded language for an Accept-Language header value
func (b *Bundle) Match(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return b.fallback
	}
	_, idx, confidence := b.matcher.Match(tags...)
	if confidence == language.No {
		return b.fallback
	}
	return b.tags[idx].String()
}

// Translator returns the translator for lang, the default language if lang is unknown
func (b *Bundle) Translator(lang string) *Translator {
	if t, ok := b.languages[lang]; ok {
		return t
	}
	return b.languages[b.fallback]
}

// Language returns the language code of the translator
func (t *Translator) Language() string {
	return t.lang
}

// Localize renders message id with data. Unknown ids are returned unchanged.
func (t *Translator) Localize(id string, data map[string]any) string {
	msg, err := t.localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    id,
		TemplateData: data,
	})
	if err != nil {
		log.WithError(err).Debugf("Missing translation %s for %s", id, t.lang)
		return id
	}
	return msg
}
