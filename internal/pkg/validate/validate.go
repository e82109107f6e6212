package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/go-playground/validator/v10"
)

var v *validator.Validate

func init() {
	v = validator.New()

	v.RegisterStructValidation(gridSpecRule, domain.GridSpec{})
}

// gridSpecRule requires a grid to name its members via Of or Mix, and keeps
// MinSize within Size.
func gridSpecRule(sl validator.StructLevel) {
	g := sl.Current().Interface().(domain.GridSpec)
	if g.Of == "" && len(g.Mix) == 0 {
		sl.ReportError(g.Of, "Of", "of", "of_or_mix", "")
	}
	if g.MinSize > g.Size {
		sl.ReportError(g.MinSize, "MinSize", "minSize", "ltefield", "Size")
	}
}

// Struct validates s and converts failures into a validation AppError.
func Struct(s any) error {
	if err := v.Struct(s); err != nil {
		return format(err)
	}
	return nil
}

func format(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return domain.ErrValidation(err.Error())
	}

	messages := make([]string, 0, len(ve))
	meta := make(map[string]string, len(ve))
	for _, fe := range ve {
		msg := formatFieldError(fe)
		messages = append(messages, msg)
		meta[fe.Namespace()] = fe.Tag()
	}
	return domain.ErrValidationMeta(strings.Join(messages, "; "), meta)
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "of_or_mix":
		return fmt.Sprintf("%s: grid needs either of or mix", field)
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
