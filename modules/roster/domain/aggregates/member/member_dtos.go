package member

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shelfmark/shelfmark/pkg/constants"
)

type CreateDTO struct {
	ExternalID string  `json:"external_id" validate:"required,max=64"`
	Name       string  `json:"name" validate:"required,max=255"`
	Role       string  `json:"role" validate:"required,oneof=student teacher staff"`
	OrgUnit    *string `json:"org_unit" validate:"omitempty,max=255"`
	Status     string  `json:"status" validate:"omitempty,oneof=active inactive"`
}

func (d *CreateDTO) Normalize() {
	d.ExternalID = strings.TrimSpace(d.ExternalID)
	d.Name = strings.TrimSpace(d.Name)
	d.Role = strings.ToLower(strings.TrimSpace(d.Role))
	d.Status = strings.ToLower(strings.TrimSpace(d.Status))
	if d.OrgUnit != nil {
		trimmed := strings.TrimSpace(*d.OrgUnit)
		d.OrgUnit = &trimmed
	}
}

func (d *CreateDTO) Ok() (map[string]string, bool) {
	d.Normalize()
	return validateDTO(d)
}

type UpdateDTO struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=255"`
	Role    *string `json:"role" validate:"omitempty,oneof=student teacher staff"`
	OrgUnit *string `json:"org_unit" validate:"omitempty,max=255"`
	Status  *string `json:"status" validate:"omitempty,oneof=active inactive"`
}

func (d *UpdateDTO) Normalize() {
	if d.Name != nil {
		trimmed := strings.TrimSpace(*d.Name)
		d.Name = &trimmed
	}
	if d.Role != nil {
		lowered := strings.ToLower(strings.TrimSpace(*d.Role))
		d.Role = &lowered
	}
	if d.Status != nil {
		lowered := strings.ToLower(strings.TrimSpace(*d.Status))
		d.Status = &lowered
	}
	if d.OrgUnit != nil {
		trimmed := strings.TrimSpace(*d.OrgUnit)
		d.OrgUnit = &trimmed
	}
}

func (d *UpdateDTO) Ok() (map[string]string, bool) {
	d.Normalize()
	return validateDTO(d)
}

func validateDTO(dto any) (map[string]string, bool) {
	errs := constants.Validate.Struct(dto)
	if errs == nil {
		return map[string]string{}, true
	}

	out := make(map[string]string)
	for _, fieldErr := range errs.(validator.ValidationErrors) {
		switch fieldErr.Tag() {
		case "required":
			out[fieldErr.Field()] = "is required"
		case "max":
			out[fieldErr.Field()] = "is too long"
		case "min":
			out[fieldErr.Field()] = "must not be empty"
		case "oneof":
			out[fieldErr.Field()] = "must be one of: " + fieldErr.Param()
		default:
			out[fieldErr.Field()] = "is invalid"
		}
	}
	return out, false
}
