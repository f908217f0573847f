package nwc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"zapsplit.lol/msat"
)

var (
	ErrInvalidURI             = errors.New("invalid wallet connect URI")
	ErrUnsupportedEncryption  = errors.New("unsupported encryption")
	ErrNoCompatibleEncryption = errors.New("no compatible encryption scheme")
	ErrRequestTimedOut        = errors.New("wallet request timed out")
	ErrConnectionClosed       = errors.New("wallet connection closed")
	ErrRelayRejected          = errors.New("relay rejected wallet request")
	ErrBudgetExceeded         = errors.New("budget exceeded")
)

// BudgetExhaustedCode is the code carried by *BudgetExceededError.
const BudgetExhaustedCode = "NWC_BUDGET_EXHAUSTED"

// BudgetExceededError is a payment refused locally because it does not fit in
// the remaining allowance of the connection.
type BudgetExceededError struct {
	Requested msat.T
	Remaining msat.T
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("Budget exceeded: requested %s msats with %s msats remaining",
		e.Requested, e.Remaining)
}

func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }

// Code returns BudgetExhaustedCode.
func (e *BudgetExceededError) Code() string { return BudgetExhaustedCode }

// WalletError is the error object of a wallet response.
type WalletError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *WalletError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return e.Code + ": " + e.Message
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	}
	return "wallet returned an error"
}

func (e *WalletError) Is(target error) bool {
	return target == ErrUnsupportedEncryption && e.unsupportedEncryption()
}

var unsupportedEncryptionText = regexp.MustCompile(`(?i)unsupported[ _-]?encryption|encryption.*not supported`)

func (e *WalletError) unsupportedEncryption() bool {
	return strings.EqualFold(e.Code, Errors.UnsupportedEncryption) ||
		unsupportedEncryptionText.MatchString(e.Message)
}

var (
	budgetTerms     = regexp.MustCompile(`(?i)allowance|budget|quota`)
	exhaustionTerms = regexp.MustCompile(`(?i)exceed|exhaust|deplet|spent`)
	budgetCodes     = map[string]bool{
		Errors.QuotaExceeded: true,
		BudgetExhaustedCode:  true,
		"BUDGET_EXCEEDED":    true,
		"BUDGET_EXHAUSTED":   true,
	}
)

// IsBudgetExhaustion reports whether err says the wallet allowance is used
// up, either by its code or by its wording.
func IsBudgetExhaustion(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBudgetExceeded) {
		return true
	}
	msg := err.Error()
	var we *WalletError
	if errors.As(err, &we) {
		if budgetCodes[strings.ToUpper(we.Code)] {
			return true
		}
		msg = we.Message
	}
	return budgetTerms.MatchString(msg) && exhaustionTerms.MatchString(msg)
}
