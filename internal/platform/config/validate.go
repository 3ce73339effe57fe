package config

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	perr "cardbatch/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	vOnce  sync.Once
	vInst  *validator.Validate
	vTrans ut.Translator
)

func settingsValidator() (*validator.Validate, ut.Translator) {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// messages name the env key when the field carries one
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			if tag := fld.Tag.Get("env"); tag != "" && tag != "-" {
				return tag
			}
			return fld.Name
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)
		_ = v.RegisterTranslation("required", trans,
			func(ut ut.Translator) error {
				return ut.Add("required", "{0} is required", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("required", fe.Field())
				return msg
			},
		)
		vInst, vTrans = v, trans
	})
	return vInst, vTrans
}

// Validate checks a settings struct against its `validate` tags.
// Every failure is joined into one ErrorCodeConfiguration error; the first field is attached
func Validate(settings any) error {
	v, trans := settingsValidator()
	err := v.Struct(settings)
	if err == nil {
		return nil
	}
	var inv *validator.InvalidValidationError
	if errors.As(err, &inv) {
		return perr.Wrap(err, perr.ErrorCodeConfiguration, "settings not validatable")
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return perr.Wrap(err, perr.ErrorCodeConfiguration, "invalid settings")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(trans))
	}
	out := perr.Newf(perr.ErrorCodeConfiguration, "invalid settings: %s", strings.Join(msgs, "; "))
	return perr.WithField(out, verrs[0].Field())
}
