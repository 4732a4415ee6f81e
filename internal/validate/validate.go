// Package validate carries field-attributed input errors from services to
// the HTTP boundary so forms can highlight the offending field.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a collection of field errors. A nil *Error means valid input.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validación fallida"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return strings.Join(parts, "; ")
}

func (e *Error) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err returns e if any field failed, nil otherwise.
func (e *Error) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// MinJustification is the shortest accepted justification for voids,
// cancellations, discounts and cash differences.
const MinJustification = 10

// Justification checks the mandatory audit-text rule shared by every
// void/cancel/variance flow. The minimum counts characters, not bytes, so
// accented text is not inflated by its UTF-8 encoding.
func Justification(e *Error, field, value string) {
	if utf8.RuneCountInString(strings.TrimSpace(value)) < MinJustification {
		e.Add(field, fmt.Sprintf("la justificación debe tener al menos %d caracteres", MinJustification))
	}
}
