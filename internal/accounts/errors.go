package accounts

import (
	"errors"
	"fmt"
)

// Category classifies a failure. Categories are errors themselves so callers can
// match them with errors.Is.
type Category string

const (
	ConfigurationError  Category = "ConfigurationError"
	CredentialsNotFound Category = "CredentialsNotFound"
	CredentialsInvalid  Category = "CredentialsInvalid"
	InvalidInput        Category = "InvalidInput"
	UserNotFound        Category = "UserNotFound"
	BackendUnavailable  Category = "BackendUnavailable"
	NoProviderData      Category = "NoProviderData"
)

// ErrEmailExists is the cause reported when creating an account whose email is taken.
var ErrEmailExists = errors.New("the user with the provided email already exists")

func (c Category) Error() string {
	return string(c)
}

// Error carries the category, the failing operation and the underlying cause.
type Error struct {
	category Category
	op       string
	err      error
}

// NewError wraps cause under the given category.
func NewError(category Category, op string, cause error) error {
	return &Error{category: category, op: op, err: cause}
}

// Errorf builds a categorized error from a format string.
func Errorf(category Category, op string, format string, args ...any) error {
	return &Error{category: category, op: op, err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.category, e.op)
	}
	return fmt.Sprintf("%s: %s: %v", e.category, e.op, e.err)
}

func (e *Error) Unwrap() []error {
	if e.err == nil {
		return []error{e.category}
	}
	return []error{e.category, e.err}
}

// Category returns the failure category.
func (e *Error) Category() Category {
	return e.category
}

// Op returns the operation that failed.
func (e *Error) Op() string {
	return e.op
}

// CategoryOf reports the category of err, or "" when err is not categorized.
func CategoryOf(err error) Category {
	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.category
	}
	var category Category
	if errors.As(err, &category) {
		return category
	}
	return ""
}

var exitCodes = map[Category]int{
	ConfigurationError:  2,
	CredentialsNotFound: 3,
	CredentialsInvalid:  4,
	InvalidInput:        5,
	UserNotFound:        6,
	BackendUnavailable:  7,
	NoProviderData:      8,
}

// ExitCode maps err to the process exit status. nil maps to 0 and unclassified
// errors to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[CategoryOf(err)]; ok {
		return code
	}
	return 1
}
