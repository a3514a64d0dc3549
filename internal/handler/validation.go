package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/modeltrainer/api/internal/model"
	"github.com/modeltrainer/api/pkg/response"
)

// NewValidator returns a validator that reports json field names and knows
// the training request rules
func NewValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("optimizer", func(fl validator.FieldLevel) bool {
		name := model.Optimizer(fl.Field().String())
		for _, o := range model.ValidOptimizers {
			if o == name {
				return true
			}
		}
		return false
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		req := sl.Current().Interface().(model.TrainRequest)
		if req.Layers == nil || len(req.Units) == 0 {
			return
		}
		if len(req.Units) != *req.Layers {
			sl.ReportError(req.Units, "units", "Units", "units_length", strconv.Itoa(*req.Layers))
		}
	}, model.TrainRequest{})

	return v
}

// decodeStrict parses a JSON body, rejecting unknown fields and trailing data
func decodeStrict(body []byte, dst interface{}) []response.ValidationIssue {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil {
		if dec.Decode(&struct{}{}) != io.EOF {
			err = errors.New("unexpected data after JSON body")
		}
	}
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		return []response.ValidationIssue{issue(fieldLoc(typeErr.Field),
			fmt.Sprintf("Input should be a valid %s", typeErr.Type.Kind()), response.TypeTypeError)}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return []response.ValidationIssue{issue([]interface{}{field},
			"Extra inputs are not permitted", response.TypeExtraForbidden)}
	}
	return []response.ValidationIssue{issue(nil, "Invalid request body: "+err.Error(), response.TypeJSONInvalid)}
}

func issue(loc []interface{}, msg, typ string) response.ValidationIssue {
	return response.ValidationIssue{
		Origin: "body",
		Loc:    append([]interface{}{"body"}, loc...),
		Msg:    msg,
		Type:   typ,
	}
}

func fieldLoc(path string) []interface{} {
	var loc []interface{}
	for _, part := range strings.Split(path, ".") {
		if part != "" {
			loc = append(loc, part)
		}
	}
	return loc
}

// formatValidationErrors turns validator errors into 422 issues
func formatValidationErrors(err error) []response.ValidationIssue {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []response.ValidationIssue{issue(nil, err.Error(), response.TypeValueError)}
	}

	issues := make([]response.ValidationIssue, 0, len(validationErrors))
	for _, e := range validationErrors {
		msg, typ := describe(e)
		issues = append(issues, issue(namespaceLoc(e.Namespace()), msg, typ))
	}
	return issues
}

func describe(e validator.FieldError) (string, string) {
	isList := e.Kind() == reflect.Slice
	switch e.Tag() {
	case "required":
		return "Field required", response.TypeMissing
	case "min":
		if isList {
			return fmt.Sprintf("List should have at least %s item(s)", e.Param()), response.TypeTooShort
		}
		return "Input should be greater than or equal to " + e.Param(), response.TypeGreaterEqual
	case "max":
		if isList {
			return fmt.Sprintf("List should have at most %s item(s)", e.Param()), response.TypeTooLong
		}
		return "Input should be less than or equal to " + e.Param(), response.TypeLessEqual
	case "optimizer":
		names := make([]string, len(model.ValidOptimizers))
		for i, o := range model.ValidOptimizers {
			names[i] = string(o)
		}
		return "Optimizer must be one of: " + strings.Join(names, ", "), response.TypeValueError
	case "units_length":
		return fmt.Sprintf("Number of units must match number of layers (%s)", e.Param()), response.TypeValueError
	case "uuid":
		return "Invalid task ID", response.TypeValueError
	}
	return fmt.Sprintf("Failed on the '%s' rule", e.Tag()), response.TypeValueError
}

// namespaceLoc turns "TrainRequest.units[1]" into ["units", 1]
func namespaceLoc(ns string) []interface{} {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}

	var loc []interface{}
	for _, part := range strings.Split(ns, ".") {
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				loc = append(loc, part)
				break
			}
			if open > 0 {
				loc = append(loc, part[:open])
			}
			end := strings.IndexByte(part, ']')
			if end < open {
				loc = append(loc, part[open:])
				break
			}
			if n, err := strconv.Atoi(part[open+1 : end]); err == nil {
				loc = append(loc, n)
			} else {
				loc = append(loc, part[open+1:end])
			}
			part = part[end+1:]
		}
	}
	return loc
}
