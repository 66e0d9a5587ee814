package domain

import (
	"fmt"

	"guildkeep/bizerror"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Rules bound the shape of group names and descriptions.
type Rules struct {
	NameMinLength        int
	NameMaxLength        int
	DescriptionMaxLength int
}

var DefaultRules = Rules{NameMinLength: 3, NameMaxLength: 16, DescriptionMaxLength: 24}

func (r Rules) ValidateName(name string) error {
	tag := fmt.Sprintf("required,alphanum,min=%d,max=%d", r.NameMinLength, r.NameMaxLength)
	if err := validate.Var(name, tag); err != nil {
		return fmt.Errorf("%w: %v", bizerror.ErrInvalidName, err)
	}
	return nil
}

func (r Rules) ValidateDescription(description string) error {
	if err := validate.Var(description, fmt.Sprintf("max=%d", r.DescriptionMaxLength)); err != nil {
		return fmt.Errorf("%w: %v", bizerror.ErrInvalidDescription, err)
	}
	return nil
}
