package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/goevery/chatrelay/internal/ierr"
)

// MaxContentLength bounds message content, counted in runes.
const MaxContentLength = 4096

// MaxRequestSize is the largest request frame a transport must accept so that
// content at MaxContentLength is rejected by validation rather than by the
// read limit. A rune escapes to at most 12 bytes (a \u surrogate pair).
const MaxRequestSize = 12*MaxContentLength + 1024

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	v.RegisterAlias("content", "required,max="+strconv.Itoa(MaxContentLength))

	return v
}

func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fieldErr := validationErrors[0]

		return ierr.New(ierr.ErrorCodeInvalidArgument,
			errors.New("invalid "+fieldErr.Field()+": failed "+fieldErr.ActualTag()+" check"))
	}

	return ierr.New(ierr.ErrorCodeInvalidArgument, err)
}
