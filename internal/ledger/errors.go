package ledger

import (
	"errors"
	"fmt"
)

// Code identifies which ledger rule rejected a request.
type Code string

const (
	CodeInvalidAmount            Code = "invalid_amount"
	CodeInvalidKind              Code = "invalid_kind"
	CodeToAccountRequired        Code = "to_account_required"
	CodeFromAccountRequired      Code = "from_account_required"
	CodeTransferAccountsRequired Code = "transfer_accounts_required"
	CodeSameAccount              Code = "same_account"
	CodeCounterpartyRequired     Code = "counterparty_required"
	CodeInvalidMetadata          Code = "invalid_metadata"
	CodeFromAccountNotFound      Code = "from_account_not_found"
	CodeToAccountNotFound        Code = "to_account_not_found"
	CodeInsufficientFunds        Code = "insufficient_funds"
	CodeCurrencyMismatch         Code = "currency_mismatch"
	CodeBalanceOverflow          Code = "balance_overflow"
)

// Class groups codes by how callers should react to them.
type Class int

const (
	// ClassValidation means the request itself is malformed; never retry it.
	ClassValidation Class = iota + 1
	// ClassNotFound means a referenced account does not exist for the owner.
	ClassNotFound
	// ClassRule means the request is well formed but breaks a balance rule.
	ClassRule
)

var codeInfo = map[Code]struct {
	class   Class
	message string
}{
	CodeInvalidAmount:            {ClassValidation, "amount must be a positive integer of minor units"},
	CodeInvalidKind:              {ClassValidation, "unknown transaction kind"},
	CodeToAccountRequired:        {ClassValidation, "destination account is required"},
	CodeFromAccountRequired:      {ClassValidation, "source account is required"},
	CodeTransferAccountsRequired: {ClassValidation, "transfer needs both accounts"},
	CodeSameAccount:              {ClassRule, "transfer requires two different accounts"},
	CodeCounterpartyRequired:     {ClassValidation, "counterparty is required for payments"},
	CodeInvalidMetadata:          {ClassValidation, "invalid metadata"},
	CodeFromAccountNotFound:      {ClassNotFound, "source account not found"},
	CodeToAccountNotFound:        {ClassNotFound, "destination account not found"},
	CodeInsufficientFunds:        {ClassRule, "insufficient funds"},
	CodeCurrencyMismatch:         {ClassRule, "accounts must share the same currency"},
	CodeBalanceOverflow:          {ClassRule, "destination balance would exceed the maximum"},
}

// Error is the closed set of failures the engine reports. Compare with
// errors.Is against the exported sentinels, or errors.As to read the code.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	msg := codeInfo[e.Code].message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

// Is matches on the code only, so a detailed error still equals its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Class reports the error taxonomy bucket of the code.
func (e *Error) Class() Class {
	return codeInfo[e.Code].class
}

func newError(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

var (
	ErrInvalidAmount            = &Error{Code: CodeInvalidAmount}
	ErrInvalidKind              = &Error{Code: CodeInvalidKind}
	ErrToAccountRequired        = &Error{Code: CodeToAccountRequired}
	ErrFromAccountRequired      = &Error{Code: CodeFromAccountRequired}
	ErrTransferAccountsRequired = &Error{Code: CodeTransferAccountsRequired}
	ErrSameAccount              = &Error{Code: CodeSameAccount}
	ErrCounterpartyRequired     = &Error{Code: CodeCounterpartyRequired}
	ErrInvalidMetadata          = &Error{Code: CodeInvalidMetadata}
	ErrFromAccountNotFound      = &Error{Code: CodeFromAccountNotFound}
	ErrToAccountNotFound        = &Error{Code: CodeToAccountNotFound}
	ErrInsufficientFunds        = &Error{Code: CodeInsufficientFunds}
	ErrCurrencyMismatch         = &Error{Code: CodeCurrencyMismatch}
	ErrBalanceOverflow          = &Error{Code: CodeBalanceOverflow}
)

// AsError unwraps err into a ledger Error when it is one.
func AsError(err error) (*Error, bool) {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr, true
	}
	return nil, false
}
