// Package env provides type-safe environment variable parsing with validation.
package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrParsing indicates an environment variable could not be parsed.
var ErrParsing = errors.New("environment variable parsing failed")

// Error represents an environment variable error with the variable name.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("environment variable %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Lookup retrieves an optional environment variable.
// An unset variable yields the default value; a set variable must parse.
func Lookup[T any](key string, defaultValue T, parser func(string) (T, error)) (T, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue, nil
	}

	parsed, err := parser(value)
	if err != nil {
		var zero T
		return zero, &Error{Key: key, Err: errors.Join(ErrParsing, err)}
	}
	return parsed, nil
}

// First returns the value of the first set, non-blank variable among keys.
func First(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

// ParseNonEmptyString validates that the input string is not blank.
func ParseNonEmptyString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty string not allowed")
	}
	return s, nil
}

// ParseBool parses a string as a boolean value.
func ParseBool(s string) (bool, error) {
	return strconv.ParseBool(s)
}
