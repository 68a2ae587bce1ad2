// Package validator validates request payloads before they reach the
// authentication service.
package validator

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// usernameRegex matches portable POSIX login names.
var usernameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

func validateUsername(fl validator.FieldLevel) bool {
	return usernameRegex.MatchString(fl.Field().String())
}

func validateTOTPToken(fl validator.FieldLevel) bool {
	token := fl.Field().String()
	if len(token) != 6 {
		return false
	}
	for _, char := range token {
		if char < '0' || char > '9' {
			return false
		}
	}
	return true
}

func init() {
	validate.RegisterValidation("username", validateUsername)
	validate.RegisterValidation("totp_token", validateTOTPToken)
}

type Validator struct{}

// ValidateStruct checks a payload against its field tags and returns one
// error per failing field.
func (v *Validator) ValidateStruct(payload interface{}) *[]error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var errs []error
	if fieldErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrors {
			errs = append(errs, fmt.Errorf("%s failed validation for rule %s", fe.Field(), fe.Tag()))
		}
	} else {
		errs = append(errs, err)
	}
	return &errs
}

// ValidateValue checks a single value against a rule string.
func (v *Validator) ValidateValue(value any, rules string) error {
	return validate.Var(value, rules)
}

var ValidatorInstance = Validator{}
