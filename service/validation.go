package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"andromirror/models"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSetup is returned when stream options fall outside the offered sets
var ErrInvalidSetup = errors.New("invalid mirroring setup")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func messageValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// ValidateTouchMessage accepts exactly messages with a known action,
// x,y in [0,1], pointerId in [0,10] and pressure in [0,1].
func ValidateTouchMessage(msg models.TouchMessage) bool {
	return messageValidator().Struct(msg) == nil
}

// ValidateKeyMessage accepts only the recognized navigation keys
func ValidateKeyMessage(msg models.KeyMessage) bool {
	return messageValidator().Struct(msg) == nil
}

// ValidateSetup checks fps/resolution/bitrate against the enumerated option
// sets. The returned map is keyed by json field name.
func ValidateSetup(setup models.SetupMessage) (map[string]string, error) {
	err := messageValidator().Struct(setup)
	if err == nil {
		return nil, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSetup, err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "oneof":
			fields[fe.Field()] = fe.Field() + " must be one of: " + fe.Param()
		default:
			fields[fe.Field()] = fe.Field() + " is invalid"
		}
	}
	return fields, ErrInvalidSetup
}
