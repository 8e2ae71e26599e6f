package domain

import (
	"fmt"
)

// FormVariant selects which application form an applicant fills. The two
// variants share the wizard machinery but differ in schema and in how
// required-ness is decided: competitor forms treat every visible question as
// required unless the schema marks it optional.
type FormVariant string

const (
	VariantCompetitor FormVariant = "competitor"
	VariantVisitor    FormVariant = "visitor"
)

// ParseFormVariant validates and returns a FormVariant.
func ParseFormVariant(s string) (FormVariant, error) {
	v := FormVariant(s)
	switch v {
	case VariantCompetitor, VariantVisitor:
		return v, nil
	}
	return "", fmt.Errorf("unknown form variant: %s", s)
}

// String returns the string representation of the form variant.
func (v FormVariant) String() string {
	return string(v)
}

// IsNil returns true if the variant is empty.
func (v FormVariant) IsNil() bool {
	return v == ""
}

// AllRequiredByDefault reports whether visible questions on this variant are
// required unless explicitly marked optional.
func (v FormVariant) AllRequiredByDefault() bool {
	return v == VariantCompetitor
}

// Other returns the opposite variant, used to prefetch the schema an
// applicant is likely to switch to.
func (v FormVariant) Other() FormVariant {
	if v == VariantCompetitor {
		return VariantVisitor
	}
	return VariantCompetitor
}

// SupportedVariants returns all form variants the gateway serves.
func SupportedVariants() []FormVariant {
	return []FormVariant{VariantCompetitor, VariantVisitor}
}
