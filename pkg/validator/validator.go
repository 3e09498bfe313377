// Package validator provides unified configuration validation for HALOAlign.
// It wraps go-playground/validator/v10 and adds the rules used by training
// configuration (dtype names, module type identifiers, optimizer names).
package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/openeeap/haloalign/pkg/errors"
)

// ============================================================================
// Validator Instance
// ============================================================================

var (
	// Global validator instance
	global *Validator
	once   sync.Once
)

// Validator wraps go-playground validator with custom rules
type Validator struct {
	validator *validator.Validate
}

// ============================================================================
// Validator Initialization
// ============================================================================

// New creates a new validator instance with custom rules. Field names in
// messages follow the mapstructure keys used in YAML files.
func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	registerCustomValidations(v)

	return &Validator{validator: v}
}

// GetValidator returns the global validator instance
func GetValidator() *Validator {
	once.Do(func() {
		global = New()
	})
	return global
}

// ============================================================================
// Validation Methods
// ============================================================================

// Validate validates a struct based on tags
func (v *Validator) Validate(i interface{}) error {
	if err := v.validator.Struct(i); err != nil {
		return v.formatValidationError(err)
	}
	return nil
}

// ValidateVar validates a single variable
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	if err := v.validator.Var(field, tag); err != nil {
		return v.formatValidationError(err)
	}
	return nil
}

// ============================================================================
// Custom Validation Rules
// ============================================================================

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	dtypeNames      = map[string]bool{"float64": true, "float32": true, "float16": true, "bfloat16": true}
	optimizerNames  = map[string]bool{"SGD": true, "Adam": true, "AdamW": true, "RMSprop": true}
)

func registerCustomValidations(v *validator.Validate) {
	// Module type identifier (e.g. GPT2Block)
	_ = v.RegisterValidation("identifier", validateIdentifier)

	// Floating-point width name
	_ = v.RegisterValidation("dtype", validateDType)

	// Optimizer name
	_ = v.RegisterValidation("optimizer", validateOptimizer)
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierRegex.MatchString(fl.Field().String())
}

func validateDType(fl validator.FieldLevel) bool {
	return dtypeNames[fl.Field().String()]
}

func validateOptimizer(fl validator.FieldLevel) bool {
	return optimizerNames[fl.Field().String()]
}

// ============================================================================
// Error Formatting
// ============================================================================

// ValidationError describes one failed rule
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
}

// FormattedValidationError contains multiple validation errors
type FormattedValidationError struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements error interface
func (f *FormattedValidationError) Error() string {
	var messages []string
	for _, e := range f.Errors {
		messages = append(messages, e.Message)
	}
	return strings.Join(messages, "; ")
}

func (v *Validator) formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	formatted := &FormattedValidationError{}
	for _, e := range validationErrors {
		formatted.Errors = append(formatted.Errors, ValidationError{
			Field:   fieldPath(e),
			Message: getErrorMessage(e),
			Tag:     e.Tag(),
			Value:   fmt.Sprintf("%v", e.Value()),
		})
	}

	return errors.New(errors.CodeConfiguration, errors.ErrorTypeConfiguration, "invalid configuration").
		WithCause(formatted).
		WithDetails("fields", len(formatted.Errors))
}

// fieldPath drops the root struct name: "Config.model.batch_size" -> "model.batch_size"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func getErrorMessage(fe validator.FieldError) string {
	field := fieldPath(fe)

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "identifier":
		return fmt.Sprintf("%s must be a module type identifier", field)
	case "dtype":
		return fmt.Sprintf("%s must be one of: float64 float32 float16 bfloat16", field)
	case "optimizer":
		return fmt.Sprintf("%s must be one of: SGD Adam AdamW RMSprop", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// ============================================================================
// Utility Functions
// ============================================================================

// ValidateStruct is a convenience function for validating structs
func ValidateStruct(s interface{}) error {
	return GetValidator().Validate(s)
}

// ValidateField is a convenience function for validating single fields
func ValidateField(field interface{}, tag string) error {
	return GetValidator().ValidateVar(field, tag)
}

//Personal.AI order the ending
