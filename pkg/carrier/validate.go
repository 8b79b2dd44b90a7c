package carrier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a credential before any carrier call is made.
func (c *Credential) Validate() error {
	if c == nil {
		return ErrCredentialNotFound
	}
	trimmed := *c
	trimmed.Identifier = strings.TrimSpace(c.Identifier)
	trimmed.AccessCode = strings.TrimSpace(c.AccessCode)
	trimmed.ContractNumber = strings.TrimSpace(c.ContractNumber)

	if err := validate.Struct(trimmed); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidCredential, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return nil
}
