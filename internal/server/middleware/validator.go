package middleware

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fieldTags are tried in order for the name a field has in error messages.
var fieldTags = []string{"json", "param", "query", "form", "header"}

type Validator struct {
	validate *validator.Validate
}

// NewValidator registers the extra rules request structs use:
// notblank rejects whitespace-only text and http_url accepts http(s) links only.
func NewValidator() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range fieldTags {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation("http_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})
	return &Validator{validate: validate}
}

// Validate reports every failed field as "field: rule", joined by "; ".
func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	msgs := make([]string, len(fields))
	for idx, f := range fields {
		msgs[idx] = f.Field() + ": " + f.Tag()
	}
	return errors.New(strings.Join(msgs, "; "))
}
