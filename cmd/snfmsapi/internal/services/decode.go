// Package services holds helpers shared by the domain services.
package services

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
)

// DecodePatch decodes a partial JSON payload into out, a pointer to a struct
// of pointer fields tagged with mapstructure. Unknown keys are rejected so
// read-only columns cannot be smuggled in.
func DecodePatch(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: false,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("patch decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return nil
}
