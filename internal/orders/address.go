package orders

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/safar/storefront/internal/models"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func normalizeAddress(a models.ShippingAddress) models.ShippingAddress {
	return models.ShippingAddress{
		Street:     strings.TrimSpace(a.Street),
		House:      strings.TrimSpace(a.House),
		Locality:   strings.TrimSpace(a.Locality),
		District:   strings.TrimSpace(a.District),
		Region:     strings.TrimSpace(a.Region),
		Country:    strings.TrimSpace(a.Country),
		PostalCode: strings.TrimSpace(a.PostalCode),
	}
}

// validateAddress trims every field and reports the first missing one in
// declaration order: street, house, locality, district, region, country.
func validateAddress(v *validator.Validate, a models.ShippingAddress) (models.ShippingAddress, error) {
	a = normalizeAddress(a)

	err := v.Struct(a)
	if err == nil {
		return a, nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return a, &ValidationError{Field: fieldErrs[0].Field()}
	}
	return a, &ValidationError{Field: "address", Message: err.Error()}
}

// addressLine joins the street-level parts into the single line stored on
// the order. Region doubles as the city.
func addressLine(a models.ShippingAddress) string {
	parts := []string{a.House, a.Street, a.Locality, a.District, a.Region}
	return strings.Join(parts, " ")
}
