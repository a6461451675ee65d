package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput          = "TASKHOOKS_BAD_INPUT"
	ErrorInvalidSignature  = "TASKHOOKS_INVALID_SIGNATURE"
	ErrorUnauthorized      = "TASKHOOKS_UNAUTHORIZED"
	ErrorUnknownDelivery   = "TASKHOOKS_UNKNOWN_DELIVERY"
	ErrorPolicyDenied      = "TASKHOOKS_POLICY_DENIED"
	ErrorRuleFailed        = "TASKHOOKS_RULE_FAILED"
	ErrorLedgerUnavailable = "TASKHOOKS_LEDGER_UNAVAILABLE"
	ErrorRemoteFailed      = "TASKHOOKS_REMOTE_FAILED"
	ErrorInternal          = "TASKHOOKS_INTERNAL_ERROR"
)

func BadInput(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput, metadata)
}

func InvalidSignature(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorInvalidSignature, metadata)
}

func Unauthorized(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorUnauthorized, metadata)
}

func UnknownDelivery(deliveryID string) error {
	return newError(
		"core: no ledger entry for delivery "+strings.TrimSpace(deliveryID),
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		ErrorUnknownDelivery,
		map[string]any{"delivery_id": strings.TrimSpace(deliveryID)},
	)
}

// LedgerUnavailable marks a storage failure as the sole retry-eliciting error
// in the pipeline: without the ledger, idempotency cannot be guaranteed, so
// the sender must retry later.
func LedgerUnavailable(source error, message string) error {
	return wrapError(source, goerrors.CategoryInternal, message, http.StatusServiceUnavailable, ErrorLedgerUnavailable, nil)
}

func RemoteFailed(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, ErrorRemoteFailed, metadata)
}

func RuleFailed(source error, ruleID string) error {
	return wrapError(
		source,
		goerrors.CategoryOperation,
		"core: rule "+strings.TrimSpace(ruleID)+" failed",
		http.StatusInternalServerError,
		ErrorRuleFailed,
		map[string]any{"rule_id": strings.TrimSpace(ruleID)},
	)
}

func Internal(source error, message string) error {
	return wrapError(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, ErrorInternal, nil)
}

// HasTextCode reports whether err carries the given taxonomy code.
func HasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(rich.TextCode), strings.TrimSpace(textCode))
}

func IsLedgerUnavailable(err error) bool {
	return HasTextCode(err, ErrorLedgerUnavailable)
}

func IsUnknownDelivery(err error) bool {
	return HasTextCode(err, ErrorUnknownDelivery)
}

// HTTPStatus maps an error to a response status. Unknown errors are internal.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

func newError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
