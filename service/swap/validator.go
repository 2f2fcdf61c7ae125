package swap

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Params configures input validation and amount conversion.
type Params struct {
	SourceIDLength      int
	TargetAddressLength int
	TargetAddressPrefix string

	SourceAtomicUnitFactor int64
	TargetAtomicUnitFactor int64
	// Ratio is source units per target unit.
	Ratio decimal.Decimal
}

var (
	alphanumeric = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	// A letter next to a digit, in either order. Rejects all-letter and all-digit strings.
	letterDigit = regexp.MustCompile(`[A-Za-z][0-9]|[0-9][A-Za-z]`)
)

// Validate checks the submitted source txid and target address.
// It returns the first failure as a ReasonValidation error, or nil.
func Validate(transactionID, targetAddress string, p Params) error {
	switch {
	case transactionID == "":
		return newError(ReasonValidation, nil, "transaction id is required")
	case len(transactionID) != p.SourceIDLength:
		return newError(ReasonValidation, nil, "transaction id must be %d characters", p.SourceIDLength)
	case !isMixedAlphanumeric(transactionID):
		return newError(ReasonValidation, nil, "transaction id must mix letters and digits only")
	}

	switch {
	case targetAddress == "":
		return newError(ReasonValidation, nil, "swap address is required")
	case len(targetAddress) != p.TargetAddressLength:
		return newError(ReasonValidation, nil, "swap address must be %d characters", p.TargetAddressLength)
	case !isMixedAlphanumeric(targetAddress):
		return newError(ReasonValidation, nil, "swap address must mix letters and digits only")
	case !strings.HasPrefix(targetAddress, p.TargetAddressPrefix):
		return newError(ReasonValidation, nil, "swap address must start with %q", p.TargetAddressPrefix)
	}

	return nil
}

func isMixedAlphanumeric(s string) bool {
	return alphanumeric.MatchString(s) && letterDigit.MatchString(s)
}
