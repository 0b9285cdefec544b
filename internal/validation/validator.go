package validation

import (
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-retail-orderflow/internal/money"
)

// slugPattern accepts lowercase words joined by single hyphens or underscores.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// New returns a configured validator with the custom rules registered. Field
// errors are reported under their JSON names.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// amounts are compared as numbers by gte and friends
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if a, ok := field.Interface().(money.Amount); ok {
			return a.Float64()
		}
		return nil
	}, money.Amount{})

	_ = v.RegisterValidation("slug", func(fl validatorv10.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})

	v.RegisterStructValidation(recordTransitionStructValidation, RecordTransitionRequest{})
	v.RegisterStructValidation(updateStatusStructValidation, UpdateStatusRequest{})

	return v
}

// recordTransitionStructValidation requires exactly one way of naming the status.
func recordTransitionStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(RecordTransitionRequest)

	hasID := strings.TrimSpace(req.StatusID) != ""
	hasSlug := strings.TrimSpace(req.StatusSlug) != ""
	switch {
	case !hasID && !hasSlug:
		sl.ReportError(req.StatusID, "status_id", "StatusID", "required_without", "status_slug")
	case hasID && hasSlug:
		sl.ReportError(req.StatusSlug, "status_slug", "StatusSlug", "excluded_with", "status_id")
	}
}

// updateStatusStructValidation rejects an update that changes nothing.
func updateStatusStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(UpdateStatusRequest)
	if req.Name == nil && req.Sequence == nil && req.Active == nil {
		sl.ReportError(req.Name, "name", "Name", "required_without_all", "sequence active")
	}
}
