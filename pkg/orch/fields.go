package orch

import (
	"strconv"
	"strings"

	"github.com/newtron-network/newtorch/pkg/util"
)

// Admin status values.
const (
	AdminUp   = "up"
	AdminDown = "down"
)

// Fields reads typed values out of an intent record, accumulating every
// malformed field in a ValidationBuilder.
type Fields struct {
	m map[string]string
	v *util.ValidationBuilder
}

// NewFields wraps a record's field map.
func NewFields(m map[string]string) *Fields {
	return &Fields{m: m, v: &util.ValidationBuilder{}}
}

// Has reports whether the field is present.
func (f *Fields) Has(name string) bool {
	_, ok := f.m[name]
	return ok
}

// String returns a field or def when absent.
func (f *Fields) String(name, def string) string {
	if v, ok := f.m[name]; ok {
		return v
	}
	return def
}

// Int parses an integer field within [lo, hi].
func (f *Fields) Int(name string, def, lo, hi int) int {
	s, ok := f.m[name]
	if !ok || s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f.v.AddErrorf("%s: %q is not a number", name, s)
		return def
	}
	if n < lo || n > hi {
		f.v.AddErrorf("%s: %d out of range [%d, %d]", name, n, lo, hi)
		return def
	}
	return n
}

// OneOf returns a field that must take one of the allowed values.
func (f *Fields) OneOf(name, def string, allowed ...string) string {
	s, ok := f.m[name]
	if !ok {
		return def
	}
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	f.v.AddErrorf("%s: %q is not one of %s", name, s, strings.Join(allowed, ", "))
	return def
}

// Admin parses an admin_status style field.
func (f *Fields) Admin(name, def string) bool {
	return f.OneOf(name, def, AdminUp, AdminDown) == AdminUp
}

// List splits a comma separated field.
func (f *Fields) List(name string) []string {
	return util.SplitCommaSeparated(f.m[name])
}

// Check adds msg as an error when cond is false.
func (f *Fields) Check(cond bool, format string, args ...interface{}) {
	if !cond {
		f.v.AddErrorf(format, args...)
	}
}

// Err returns the accumulated validation failure as an invalid intent.
func (f *Fields) Err(table, key string) error {
	if err := f.v.Build(); err != nil {
		return util.NewIntentError(table, key, err)
	}
	return nil
}
