package domain

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var pluginNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]{0,127}$`)

// RegisterValidations adds the "plugin_name" tag to v.
func RegisterValidations(v *validator.Validate) {
	_ = v.RegisterValidation("plugin_name", func(fl validator.FieldLevel) bool {
		return pluginNamePattern.MatchString(fl.Field().String())
	})
}
