package collab

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

var (
	// custom validation tags & texts
	langCodeTag  = "langcode"
	langCodeText = "unsupported editor language"

	supportedLanguages = map[string]struct{}{
		"go":         {},
		"python":     {},
		"javascript": {},
		"typescript": {},
		"java":       {},
		"c":          {},
		"cpp":        {},
		"csharp":     {},
		"rust":       {},
		"ruby":       {},
		"php":        {},
		"sql":        {},
		"html":       {},
		"css":        {},
		"plaintext":  {},
	}
)

// InitValidators registers this package's custom validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(langCodeTag, langCodeValidation)
	core.RegisterCustomTranslation(validate, translator, langCodeTag, langCodeText)
}

func langCodeValidation(fl validator.FieldLevel) bool {
	_, ok := supportedLanguages[fl.Field().String()]
	return ok
}
