package onboarding

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "algotrader/internal/errors"
)

// PersonalInfo is the first onboarding step.
type PersonalInfo struct {
	GivenName     string `json:"given_name" validate:"required"`
	FamilyName    string `json:"family_name" validate:"required"`
	DateOfBirth   string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	PhoneNumber   string `json:"phone_number" validate:"required,phone"`
	StreetAddress string `json:"street_address" validate:"required"`
	City          string `json:"city" validate:"required"`
	State         string `json:"state" validate:"required"`
	PostalCode    string `json:"postal_code" validate:"required,postal_code_us"`
	TaxID         string `json:"tax_id" validate:"required,tax_id"`
	TaxIDType     string `json:"tax_id_type" validate:"oneof=USA_SSN USA_ITIN"`
	Country       string `json:"country" validate:"len=3,uppercase"`
}

func (p PersonalInfo) withDefaults() PersonalInfo {
	if p.TaxIDType == "" {
		p.TaxIDType = "USA_SSN"
	}
	if p.Country == "" {
		p.Country = "USA"
	}
	return p
}

// Disclosures is the second onboarding step.
type Disclosures struct {
	FundingSource               string `json:"funding_source" validate:"oneof=employment_income investments inheritance business_income savings family"`
	IsControlPerson             bool   `json:"is_control_person"`
	IsAffiliatedExchangeOrFINRA bool   `json:"is_affiliated_exchange_or_finra"`
	IsPoliticallyExposed        bool   `json:"is_politically_exposed"`
	ImmediateFamilyExposed      bool   `json:"immediate_family_exposed"`
}

func (d Disclosures) withDefaults() Disclosures {
	if d.FundingSource == "" {
		d.FundingSource = "employment_income"
	}
	return d
}

var (
	phonePattern  = regexp.MustCompile(`^\+?[0-9 ().-]{7,20}$`)
	postalPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	taxIDPattern  = regexp.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return jsonName(f.Tag.Get("json"))
	})
	_ = v.RegisterValidation("phone", matches(phonePattern))
	_ = v.RegisterValidation("postal_code_us", matches(postalPattern))
	_ = v.RegisterValidation("tax_id", matches(taxIDPattern))
	return v
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

func jsonName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	return name
}

// validateStruct runs the struct tags and reports the first failing field
// as a ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.NewValidationError("form", nil, err.Error())
	}
	fe := verrs[0]
	return apperrors.NewValidationError(fe.Field(), nil, message(fe))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "phone":
		return "must be a phone number"
	case "postal_code_us":
		return "must be a 5 or 9 digit ZIP code"
	case "tax_id":
		return "must be a 9 digit tax id"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

// buildAccountPayload assembles the createAccount parameters.
func buildAccountPayload(p PersonalInfo, d Disclosures) map[string]any {
	return map[string]any{
		"given_name":     p.GivenName,
		"family_name":    p.FamilyName,
		"date_of_birth":  p.DateOfBirth,
		"phone_number":   p.PhoneNumber,
		"street_address": p.StreetAddress,
		"city":           p.City,
		"state":          p.State,
		"postal_code":    p.PostalCode,

		"tax_id":      p.TaxID,
		"tax_id_type": p.TaxIDType,

		"country_of_citizenship":   p.Country,
		"country_of_birth":         p.Country,
		"country_of_tax_residence": p.Country,
		"funding_source":           []string{d.FundingSource},

		"is_control_person":               d.IsControlPerson,
		"is_affiliated_exchange_or_finra": d.IsAffiliatedExchangeOrFINRA,
		"is_politically_exposed":          d.IsPoliticallyExposed,
		"immediate_family_exposed":        d.ImmediateFamilyExposed,
	}
}
