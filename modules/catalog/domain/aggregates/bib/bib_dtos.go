package bib

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shelfmark/shelfmark/pkg/constants"
)

type CreateDTO struct {
	Title     string  `json:"title" validate:"required,max=512"`
	Author    string  `json:"author" validate:"required,max=255"`
	ISBN      *string `json:"isbn" validate:"omitempty,max=17"`
	Publisher *string `json:"publisher" validate:"omitempty,max=255"`
	Year      *int    `json:"year" validate:"omitempty,gte=0,lte=9999"`
}

func (d *CreateDTO) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Author = strings.TrimSpace(d.Author)
	if d.ISBN != nil {
		trimmed := strings.TrimSpace(*d.ISBN)
		d.ISBN = &trimmed
	}
	if d.Publisher != nil {
		trimmed := strings.TrimSpace(*d.Publisher)
		d.Publisher = &trimmed
	}
}

func (d *CreateDTO) Ok() (map[string]string, bool) {
	d.Normalize()
	return validateBibDTO(d)
}

type UpdateDTO struct {
	Title     *string `json:"title" validate:"omitempty,min=1,max=512"`
	Author    *string `json:"author" validate:"omitempty,min=1,max=255"`
	ISBN      *string `json:"isbn" validate:"omitempty,max=17"`
	Publisher *string `json:"publisher" validate:"omitempty,max=255"`
	Year      *int    `json:"year" validate:"omitempty,gte=0,lte=9999"`
}

func (d *UpdateDTO) Normalize() {
	if d.Title != nil {
		trimmed := strings.TrimSpace(*d.Title)
		d.Title = &trimmed
	}
	if d.Author != nil {
		trimmed := strings.TrimSpace(*d.Author)
		d.Author = &trimmed
	}
	if d.ISBN != nil {
		trimmed := strings.TrimSpace(*d.ISBN)
		d.ISBN = &trimmed
	}
	if d.Publisher != nil {
		trimmed := strings.TrimSpace(*d.Publisher)
		d.Publisher = &trimmed
	}
}

func (d *UpdateDTO) Ok() (map[string]string, bool) {
	d.Normalize()
	return validateBibDTO(d)
}

func validateBibDTO(dto any) (map[string]string, bool) {
	errs := constants.Validate.Struct(dto)
	if errs == nil {
		return map[string]string{}, true
	}
	out := make(map[string]string)
	for _, fieldErr := range errs.(validator.ValidationErrors) {
		switch fieldErr.Tag() {
		case "required":
			out[fieldErr.Field()] = "is required"
		case "max", "lte":
			out[fieldErr.Field()] = "is too large"
		case "min", "gte":
			out[fieldErr.Field()] = "is too small"
		default:
			out[fieldErr.Field()] = "is invalid"
		}
	}
	return out, false
}
