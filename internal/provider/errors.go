package provider

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced to the merchant application. Handlers map
// each kind to distinct user-facing behavior.
var (
	// ErrInvalidRequest marks a structurally malformed inbound callback,
	// detected before any gateway call or record mutation.
	ErrInvalidRequest = errors.New("provider: invalid request")

	// ErrInvalidState marks a missing or mismatched anti-replay state token.
	ErrInvalidState = errors.New("provider: invalid state token")

	// ErrRetry marks a settlement attempt against a record that is already
	// in a terminal status.
	ErrRetry = errors.New("provider: transaction already settled")

	// ErrProviderNotFound marks a provider code with no registered driver.
	ErrProviderNotFound = errors.New("provider: no driver registered")
)

// TransactionError is a defined failure reported by the remote gateway. It
// always results in the record being marked FAILED with the code and message
// appended to the log.
type TransactionError struct {
	Provider string
	Code     string
	Message  string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("provider %s: gateway error %s: %s", e.Provider, e.Code, e.Message)
}

// NewTransactionError builds a TransactionError, resolving the human-readable
// message from the adapter's code table. Untranslated codes fall back to the
// raw code as the message.
func NewTransactionError(providerName, code string, messages map[string]string) *TransactionError {
	msg, ok := messages[code]
	if !ok {
		msg = code
	}
	return &TransactionError{Provider: providerName, Code: code, Message: msg}
}

// AsTransactionError unwraps err into a *TransactionError when possible.
func AsTransactionError(err error) (*TransactionError, bool) {
	var te *TransactionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
