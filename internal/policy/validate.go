package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// InvalidError aggregates every schema violation found in one policy
// document so the operator can fix the file in a single pass.
type InvalidError struct {
	Issues []string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid policy: %s", strings.Join(e.Issues, "; "))
}

var (
	validate      *validator.Validate
	windowPattern = regexp.MustCompile(`^\d+[smhd]$`)
)

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("window", validateWindow); err != nil {
		panic(fmt.Sprintf("register window validator: %v", err))
	}
}

func validateWindow(fl validator.FieldLevel) bool {
	return windowPattern.MatchString(fl.Field().String())
}

// Validate checks the policy against the schema and returns an
// *InvalidError listing every violation.
func (p *Policy) Validate() error {
	var issues []string

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				issues = append(issues, describeFieldError(fe))
			}
		} else {
			issues = append(issues, err.Error())
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return &InvalidError{Issues: issues}
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "eq":
		return fmt.Sprintf("%s must equal %s, got %v", field, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", field, fe.Param(), fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("%s must be between 0 and 1, got %v", field, fe.Value())
	case "required":
		return fmt.Sprintf("%s must not be empty", field)
	case "window":
		return fmt.Sprintf("%s must look like 30s, 5m, 1h or 1d, got %q", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
