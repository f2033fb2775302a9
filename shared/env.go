package shared

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

var ErrMissingEnv = errors.New("missing environment variable")

// Parsers accepted by Getenv and MustGetenv.
func GetenvString(s string) (string, error)          { return s, nil }
func GetenvBool(s string) (bool, error)              { return strconv.ParseBool(s) }
func GetenvInt(s string) (int, error)                { return strconv.Atoi(s) }
func GetenvDuration(s string) (time.Duration, error) { return time.ParseDuration(s) }

// Getenv reads key and converts it with parse. An unset or empty variable
// yields def, or ErrMissingEnv when required is set.
func Getenv[T any](parse func(string) (T, error), key string, required bool, def T) (T, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		if required {
			return def, fmt.Errorf("%w: %s", ErrMissingEnv, key)
		}
		return def, nil
	}
	out, err := parse(v)
	if err != nil {
		return def, fmt.Errorf("parsing %s: %w", key, err)
	}
	return out, nil
}

// MustGetenv is Getenv that panics on error.
func MustGetenv[T any](parse func(string) (T, error), key string, required bool, def T) T {
	out, err := Getenv(parse, key, required, def)
	if err != nil {
		panic(err)
	}
	return out
}
