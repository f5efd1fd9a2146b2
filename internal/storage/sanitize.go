package storage

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"commodity-intel/internal/apperr"
	"commodity-intel/internal/model"
)

var (
	commodityNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_\(\)]+$`)
	deniedFragments      = []string{";", "--", "/*", "*/", "XP_", "SP_", "DROP", "DELETE", "INSERT", "UPDATE", "EXEC", "UNION", "SELECT", "FROM", "WHERE"}

	nameValidator = newNameValidator()
)

func newNameValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("commodity", func(fl validator.FieldLevel) bool {
		return safeCommodityName(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

func safeCommodityName(name string) bool {
	if !commodityNamePattern.MatchString(name) {
		return false
	}
	upper := strings.ToUpper(name)
	for _, fragment := range deniedFragments {
		if strings.Contains(upper, fragment) {
			return false
		}
	}
	return true
}

// SanitizeCommodity trims and validates a commodity name before it reaches a query.
func SanitizeCommodity(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := nameValidator.Var(name, "required,max=50,commodity"); err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "sanitize commodity", eris.Wrapf(err, "invalid commodity name %q", name))
	}
	return name, nil
}

// SanitizeTimeframe rejects timeframes outside the accepted set.
func SanitizeTimeframe(tf model.Timeframe) (model.Timeframe, error) {
	tf = model.Timeframe(strings.TrimSpace(string(tf)))
	if !tf.Valid() {
		return "", apperr.Newf(apperr.KindValidation, "sanitize timeframe", "invalid timeframe %q", tf)
	}
	return tf, nil
}
