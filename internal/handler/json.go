package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/decomontenegro/truelabel/internal/domain"
)

// maxBodySize bounds JSON request bodies. Rule tables have their own limit.
const maxBodySize = 1 << 20

// actorHeader names the caller on mutating staff requests.
const actorHeader = "X-Actor-ID"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and runs its validate tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, dst any) error {
	return decodeBody(w, r, op, dst, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, op string, dst any) error {
	return decodeBody(w, r, op, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, op string, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return domain.Invalid(op, fmt.Sprintf("request body exceeds %d bytes", maxBodySize))
		case errors.Is(err, io.EOF):
			if !optional {
				return domain.Invalid(op, "request body is required")
			}
		default:
			return domain.Invalid(op, "request body is not valid JSON")
		}
	}
	if dec.More() {
		return domain.Invalid(op, "request body must contain a single JSON object")
	}
	return validateStruct(op, dst)
}

func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.Invalid(op, "request body is invalid")
	}
	verr := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		verr.Fields[fieldPath(fe)] = fieldMessage(fe)
	}
	return verr
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "min":
		return "must be at least " + fe.Param() + " long"
	case "numeric":
		return "must contain only digits"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}

// pathID parses a UUID path segment. Malformed IDs are reported as not found
// so that the route does not leak which IDs are well formed.
func pathID(r *http.Request, name, op, resource string) (uuid.UUID, error) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NotFound(op, resource, raw)
	}
	return id, nil
}

// queryInt32 reads an optional positive integer query parameter.
func queryInt32(r *http.Request, name, op string) (int32, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(op, name, "must be a non-negative integer")
	}
	return int32(n), nil
}

// actorID identifies the caller of a staff endpoint for the audit trail.
func actorID(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
		return actor
	}
	return "api"
}
