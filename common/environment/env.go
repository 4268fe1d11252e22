// Package environment provides helpers for loading configuration from environment variables.
//
// A Reader looks variables up under a fixed prefix and returns either the
// parsed value or a default.  Unlike a bare os.Getenv, malformed values are
// not silently replaced by the default: they are collected and reported by
// Err, so a typo in a deployment manifest surfaces at startup.
package environment

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Reader reads prefixed environment variables and accumulates parse errors.
type Reader struct {
	prefix string
	lookup func(string) (string, bool)
	errs   []error
}

// New returns a Reader for variables named prefix+name.
func New(prefix string) *Reader {
	return &Reader{prefix: prefix, lookup: os.LookupEnv}
}

// NewWithLookup returns a Reader that resolves names through lookup instead
// of the process environment.
func NewWithLookup(prefix string, lookup func(string) (string, bool)) *Reader {
	return &Reader{prefix: prefix, lookup: lookup}
}

func (r *Reader) raw(name string) string {
	v, ok := r.lookup(r.prefix + name)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func (r *Reader) fail(name, value, kind string, err error) {
	r.errs = append(r.errs, fmt.Errorf("environment variable %s=%q is not a valid %s: %w", r.prefix+name, value, kind, err))
}

// String returns the variable or defaultValue if unset or empty.
func (r *Reader) String(name, defaultValue string) string {
	if v := r.raw(name); v != "" {
		return v
	}
	return defaultValue
}

// Required returns the variable and records an error if it is unset or empty.
func (r *Reader) Required(name string) string {
	v := r.raw(name)
	if v == "" {
		r.errs = append(r.errs, fmt.Errorf("required environment variable %q is not set", r.prefix+name))
	}
	return v
}

// Bool parses the variable with strconv.ParseBool.
func (r *Reader) Bool(name string, defaultValue bool) bool {
	v := r.raw(name)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(name, v, "boolean", err)
		return defaultValue
	}
	return b
}

// Int parses the variable as a decimal integer.
func (r *Reader) Int(name string, defaultValue int) int {
	v := r.raw(name)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, v, "integer", err)
		return defaultValue
	}
	return n
}

// Float parses the variable as a 64-bit float.
func (r *Reader) Float(name string, defaultValue float64) float64 {
	v := r.raw(name)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(name, v, "number", err)
		return defaultValue
	}
	return f
}

// Duration parses the variable as a time.Duration ("30s", "5m").
func (r *Reader) Duration(name string, defaultValue time.Duration) time.Duration {
	v := r.raw(name)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(name, v, "duration", err)
		return defaultValue
	}
	return d
}

// Strings parses the variable as a comma-separated list, trimming whitespace
// and dropping empty elements.
func (r *Reader) Strings(name string, defaultValue []string) []string {
	v := r.raw(name)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// Err returns every error recorded so far, joined, or nil.
func (r *Reader) Err() error {
	return errors.Join(r.errs...)
}
