// Package schema gates values that cross the surface/host boundary with a
// structural validator before handing them to typed Go code.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
)

// Schema validates raw JSON against an OpenAPI schema and decodes it into T.
// A Schema with no underlying openapi3 schema accepts any JSON value.
type Schema[T any] struct {
	s *openapi3.Schema
}

// New wraps an existing openapi3 schema.
func New[T any](s *openapi3.Schema) *Schema[T] {
	return &Schema[T]{s: s}
}

// For generates a schema from the Go type T.
func For[T any]() (*Schema[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Interface {
		return &Schema[T]{}, nil
	}
	ref, err := openapi3gen.NewGenerator(openapi3gen.SchemaCustomizer(requireFields)).GenerateSchemaRef(t)
	if err != nil {
		return nil, fmt.Errorf("generate schema for %s: %w", t, err)
	}
	return &Schema[T]{s: ref.Value}, nil
}

// requireFields marks the JSON fields of a struct as required unless they
// are tagged omitempty or can hold nil.
func requireFields(_ string, t reflect.Type, _ reflect.StructTag, s *openapi3.Schema) error {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	for _, name := range requiredNames(t) {
		if !slices.Contains(s.Required, name) {
			s.Required = append(s.Required, name)
		}
	}
	return nil
}

func requiredNames(t reflect.Type) []string {
	var names []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			ft := f.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && f.Type.Kind() != reflect.Pointer {
				names = append(names, requiredNames(ft)...)
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if slices.Contains(strings.Split(opts, ","), "omitempty") {
			continue
		}
		switch f.Type.Kind() {
		case reflect.Pointer, reflect.Interface:
			continue
		}
		names = append(names, name)
	}
	return names
}

// MustFor is like For but panics on error. It is intended for package-level
// schema variables.
func MustFor[T any]() *Schema[T] {
	s, err := For[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// FromJSON loads a JSON Schema / OpenAPI schema object.
func FromJSON[T any](doc []byte) (*Schema[T], error) {
	var s openapi3.Schema
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return &Schema[T]{s: &s}, nil
}

// OpenAPI returns the underlying schema, nil when the schema accepts anything.
func (s *Schema[T]) OpenAPI() *openapi3.Schema { return s.s }

// Parse validates raw and decodes it into T. An empty raw value is treated
// as JSON null.
func (s *Schema[T]) Parse(raw json.RawMessage) (T, error) {
	var zero T
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, &ValidationError{Reason: "invalid JSON", Cause: err}
	}
	if s != nil && s.s != nil {
		if err := s.s.VisitJSON(v); err != nil {
			return zero, newValidationError(err)
		}
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, &ValidationError{Reason: "value does not fit target type", Cause: err}
	}
	return out, nil
}

// ValidationError describes why a value was rejected.
type ValidationError struct {
	// Path is the JSON pointer of the offending value, empty for the root.
	Path   string
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("schema validation failed at %s: %s", e.Path, e.Reason)
	}
	return "schema validation failed: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func newValidationError(err error) *ValidationError {
	ve := &ValidationError{Reason: err.Error(), Cause: err}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		ve.Reason = se.Reason
		if p := se.JSONPointer(); len(p) > 0 {
			ve.Path = "/" + strings.Join(p, "/")
		}
	}
	return ve
}
