package handlers

import (
	"errors"
	"net/mail"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	msgInvalidBody      = "Invalid request body"
	msgInvalidEmail     = "Invalid email"
	msgInvalidType      = "Invalid type: expected 'verify' or 'reset'"
	msgInvalidCode      = "Code must contain exactly 6 characters"
	msgShortPassword    = "Password must contain at least 6 characters"
	msgMissingName      = "Name is required"
	msgMissingToken     = "Reset token is required"
	msgMissingRefresh   = "Refresh token is required"
	msgInvalidPhone     = "Phone is too long"
	msgInvalidCompany   = "Target company is too long"
	msgInvalidLocation  = "Location is too long"
	msgInvalidYears     = "Years of experience must be between 0 and 80"
	msgInvalidSkills    = "Skills must be at most 50 entries of up to 100 characters"
	msgLongName         = "Name must contain at most 100 characters"
	msgInvalidFieldType = "Invalid value"
)

// tagMessages overrides fieldMessages for one rule of a field.
var tagMessages = map[string]string{
	"name.max": msgLongName,
}

// fieldMessages maps a request field (by its JSON name) to the message
// reported when any of its rules fails.
var fieldMessages = map[string]string{
	"email":           msgInvalidEmail,
	"type":            msgInvalidType,
	"code":            msgInvalidCode,
	"password":        msgShortPassword,
	"name":            msgMissingName,
	"reset_token":     msgMissingToken,
	"refresh_token":   msgMissingRefresh,
	"phone":           msgInvalidPhone,
	"targetCompany":   msgInvalidCompany,
	"location":        msgInvalidLocation,
	"yearsExperience": msgInvalidYears,
	"skills":          msgInvalidSkills,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// The stock email rule accepts single-label domains. mailbox also wants a
	// bare net/mail address with a dotted domain.
	if err := v.RegisterValidation("mailbox", isMailbox); err != nil {
		panic(err)
	}
	return v
}

func isMailbox(fl validator.FieldLevel) bool {
	email := fl.Field().String()
	if strings.ContainsAny(email, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at:], ".")
}

// fieldError carries the first validation failure of a request.
type fieldError struct {
	message string
}

func (e *fieldError) Error() string {
	return e.message
}

// validateRequest checks req against its validate tags and reports the first
// failing field, in declaration order.
func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &fieldError{message: msgInvalidBody}
	}

	field := errs[0].Field()
	if i := strings.IndexByte(field, '['); i >= 0 {
		field = field[:i]
	}
	if msg, ok := tagMessages[field+"."+errs[0].Tag()]; ok {
		return &fieldError{message: msg}
	}
	if msg, ok := fieldMessages[field]; ok {
		return &fieldError{message: msg}
	}
	return &fieldError{message: msgInvalidFieldType}
}
