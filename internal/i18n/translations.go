package i18n

import (
	"embed"
	"errors"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	"secretsanta/internal/domain"
)

//go:embed active.*.toml
var localeFS embed.FS

// Translator renders user-facing messages through a go-i18n bundle.
type Translator struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
	matcher         language.Matcher
}

// NewTranslator loads the embedded catalogs. Unknown locales fall back to Russian.
func NewTranslator(defaultLocale string) *Translator {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.Russian
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, file := range []string{"active.ru.toml", "active.en.toml"} {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			slog.Warn("i18n: failed to load catalog", "file", file, "err", err)
		}
	}
	return &Translator{
		bundle:          bundle,
		defaultLanguage: tag,
		matcher:         language.NewMatcher(bundle.LanguageTags()),
	}
}

// Match picks the best supported locale for an Accept-Language header value,
// returning "" when nothing matches so callers fall back to the default.
func (t *Translator) Match(acceptLanguage string) string {
	if acceptLanguage == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return ""
	}
	_, idx, conf := t.matcher.Match(tags...)
	if conf == language.No {
		return ""
	}
	return t.bundle.LanguageTags()[idx].String()
}

// T renders the message identified by key, falling back to the default
// locale and then to the key itself.
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
		slog.Debug("i18n: localize failed", "key", key, "locales", languages, "err", err)
		return key
	}
	return msg
}

// Error renders a domain error. Errors outside the taxonomy render as internal_error.
func (t *Translator) Error(locale string, err error) string {
	code := domain.Code(err)
	if code == "" {
		return t.T(locale, "internal_error", nil)
	}
	data := map[string]any{}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		data["Field"] = t.T(locale, "field."+ve.Field, nil)
	}
	var ie domain.InsufficientParticipantsError
	if errors.As(err, &ie) {
		data["Have"] = ie.Have
		data["Need"] = ie.Need
	} else if code == "insufficient_participants" {
		data["Have"] = 0
		data["Need"] = 2
	}
	return t.T(locale, code, data)
}
