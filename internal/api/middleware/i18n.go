package middleware

import (
	"birdwatch-go/internal/locale"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Context keys set by I18n
const (
	LanguageKey   = "language"
	TranslatorKey = "translator"
)

const sessionLanguageKey = "language"

// I18n resolves the language of a request and stores it with its translator
// in the gin context. The language comes from the lang query parameter, which
// is also remembered in the session, then the session, then Accept-Language.
// Requires the sessions middleware.
func I18n(bundle *locale.Bundle) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		lang := c.Query("lang")
		if lang != "" && bundle.Supported(lang) {
			session.Set(sessionLanguageKey, lang)
			if err := session.Save(); err != nil {
				log.WithError(err).Warn("Failed to save language preference")
			}
		} else if stored, ok := session.Get(sessionLanguageKey).(string); ok && bundle.Supported(stored) {
			lang = stored
		} else {
			lang = bundle.Match(c.GetHeader("Accept-Language"))
		}

		c.Set(LanguageKey, lang)
		c.Set(TranslatorKey, bundle.Translator(lang))
		c.Next()
	}
}

// Translator returns the translator chosen by I18n, the default language when
// the middleware did not run
func Translator(c *gin.Context, bundle *locale.Bundle) *locale.Translator {
	if t, ok := c.Get(TranslatorKey); ok {
		if tr, ok := t.(*locale.Translator); ok {
			return tr
		}
	}
	return bundle.Translator(bundle.Default())
}
