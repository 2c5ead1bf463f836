package listings

import (
	"errors"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-playground/validator/v10"

	"dkey-backend/pkg/models"
)

// CreationForm is the seller's input to one listing creation attempt.
// ChainID 0 means the profile's default chain.
type CreationForm struct {
	FileName       string `validate:"required"`
	FileData       []byte `validate:"required"`
	CoverName      string `validate:"required"`
	CoverData      []byte `validate:"required"`
	Description    string `validate:"required"`
	Units          uint64 `validate:"required,gt=0"`
	Price          string `validate:"required"`
	RoyaltyPercent int    `validate:"required,min=1,max=99"`
	ChainID        uint64
}

var fieldMessages = map[string]string{
	"FileName":       "file is required",
	"FileData":       "file is required",
	"CoverName":      "cover image is required",
	"CoverData":      "cover image is required",
	"Description":    "description is required",
	"Units":          "units must be a positive whole number",
	"Price":          "price is required",
	"RoyaltyPercent": "royalty must be a whole percentage between 1 and 99",
}

// validateForm checks the form synchronously and parses the price. All
// failures are local validation errors; nothing here touches the network.
func validateForm(v *validator.Validate, form CreationForm) (*apd.Decimal, error) {
	if err := v.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if ok := errors.As(err, &fieldErrs); ok && len(fieldErrs) > 0 {
			if msg, known := fieldMessages[fieldErrs[0].Field()]; known {
				return nil, models.NewValidationError(msg)
			}
		}
		return nil, models.NewValidationError("invalid listing form")
	}

	price, _, err := apd.NewFromString(strings.TrimSpace(form.Price))
	if err != nil {
		return nil, models.NewValidationError("price is not a valid number")
	}
	if price.Sign() <= 0 {
		return nil, models.NewValidationError("price must be greater than zero")
	}

	return price, nil
}

func coverLink(gatewayURL, contentID string) string {
	if gatewayURL == "" {
		return "ipfs://" + contentID
	}
	return strings.TrimSuffix(gatewayURL, "/") + "/" + contentID
}
