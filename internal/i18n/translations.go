package i18n

import (
	"embed"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed active.*.toml
var localeFS embed.FS

// Message keys
const (
	KeyPromotionOffered = "PromotionOffered"
	KeyPromotionExpired = "PromotionExpired"
	KeyPromotionRevoked = "PromotionRevoked"
	KeyPromotionClaimed = "PromotionClaimed"
	KeyOpsOffered       = "OpsPromotionOffered"
	KeyOpsExpired       = "OpsPromotionExpired"
)

// Translator тонкая обертка над Bundle/Localizer из go-i18n
type Translator struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
}

func NewTranslator(defaultLocale string) *Translator {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, file := range []string{"active.en.toml", "active.ru.toml"} {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			logrus.Errorf("i18n: failed to load %s: %v", file, err)
		}
	}

	return &Translator{
		bundle:          bundle,
		defaultLanguage: tag,
	}
}

// T renders key for locale, falling back to the default locale and then to the key itself.
func (t *Translator) T(locale, key string, data map[string]any) string {
	if key == "" {
		return ""
	}

	languages := []string{}
	if locale != "" {
		languages = append(languages, locale)
	}
	languages = append(languages, t.defaultLanguage.String())

	localizer := i18n.NewLocalizer(t.bundle, languages...)
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "locales": languages}).Warnf("i18n: localize failed: %v", err)
		return key
	}
	return msg
}
