package invoice

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so messages match the API
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports blank operator fields as a *ValidationError.
// Whitespace-only values count as blank.
func (m Metadata) Validate() error {
	trimmed := Metadata{
		InvoiceNumber: strings.TrimSpace(m.InvoiceNumber),
		PaymentTerms:  strings.TrimSpace(m.PaymentTerms),
		Client: ClientDetails{
			Name:    strings.TrimSpace(m.Client.Name),
			Address: strings.TrimSpace(m.Client.Address),
			TaxID:   strings.TrimSpace(m.Client.TaxID),
		},
	}

	err := validate.Struct(trimmed)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating metadata: %w", err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.TrimPrefix(fe.Namespace(), "Metadata."))
	}
	return missingFields(fields)
}
