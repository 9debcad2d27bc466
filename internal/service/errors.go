package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrVehicleNotFound  = errors.New("vehicle not found")
	ErrDuplicateVehicle = errors.New("vehicle with this registration number already exists")
	ErrRegNoImmutable   = errors.New("registration number cannot be changed")
)

// validationError turns validator output into an ErrValidation listing the
// offending fields by their JSON names.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "datetime":
			msgs = append(msgs, fe.Field()+" must be a date (YYYY-MM-DD)")
		case "regno":
			msgs = append(msgs, fe.Field()+" may only contain letters and digits, separated by single spaces or hyphens")
		case "hexcolor":
			msgs = append(msgs, fe.Field()+" must be a hex color")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}
