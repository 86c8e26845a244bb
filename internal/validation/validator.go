// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	directoryNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	deviceAliasPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_]{0,31}$`)
)

// IsDirectoryName reports whether name is a valid PKB directory name.
func IsDirectoryName(name string) bool {
	return directoryNamePattern.MatchString(name)
}

// IsDeviceAlias reports whether alias can be used as a device alias. Aliases
// may not contain '-', which separates alias and node id in remote names.
func IsDeviceAlias(alias string) bool {
	return deviceAliasPattern.MatchString(alias)
}

// FieldError is a single failed field.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

func (e FieldError) Error() string {
	return e.Message
}

// Error collects every failed field of one struct.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// GetValidator returns the process-wide validator with the PKB tags registered.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		mustRegister(validate, "pkb_dir", func(fl validator.FieldLevel) bool {
			return IsDirectoryName(fl.Field().String())
		})
		mustRegister(validate, "pkb_alias", func(fl validator.FieldLevel) bool {
			return IsDeviceAlias(fl.Field().String())
		})
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %s: %v", tag, err))
	}
}

// ValidateStruct validates s. It returns nil or an *Error.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := &Error{Fields: make([]FieldError, len(fieldErrs))}
	for i, fe := range fieldErrs {
		out.Fields[i] = FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translate(fe),
		}
	}
	return out
}

var messageTemplates = map[string]string{
	"required":  "%s is required",
	"url":       "%s must be a valid URL",
	"pkb_dir":   "%s must be a directory name (lowercase letters, digits, '-' or '_', max 64)",
	"pkb_alias": "%s must be a device alias (letters, digits or '_', max 32)",
	"hostname":  "%s must be a valid hostname",
}

var paramTemplates = map[string]string{
	"oneof": "%s must be one of: %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
}

func translate(fe validator.FieldError) string {
	field := fe.Namespace()
	if tmpl, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := paramTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
