package coordinator

import "fmt"

// ErrorCode enumerates every error kind the coordinator can surface to a
// client, via the gateway's wire Error envelope.
type ErrorCode string

const (
	CodeUnknownTicker      ErrorCode = "UnknownTicker"
	CodeInvalidAssetAmount ErrorCode = "InvalidAssetAmount"
	CodeGapLimit           ErrorCode = "GapLimit"
	CodeNoMarket           ErrorCode = "NoMarket"
	CodeNoQuote            ErrorCode = "NoQuote"
	CodeQuoteExpired       ErrorCode = "QuoteExpired"
	CodeQuoteError         ErrorCode = "QuoteError"
	CodeNotEnoughAmount    ErrorCode = "NotEnoughAmount"
	CodeNoCreatedTx        ErrorCode = "NoCreatedTx"
	CodeUtxoCheckFailed    ErrorCode = "UtxoCheckFailed"
	CodeWallet             ErrorCode = "Wallet"
	CodeWsError            ErrorCode = "WsError"
	CodePersistence        ErrorCode = "Persistence"
	CodeCodec              ErrorCode = "Codec"
	CodeInternal           ErrorCode = "Internal"

	// CodeInvalidRequest is used by the gateway for frames that never
	// reach the coordinator, and by dispatch for a request that names no
	// known variant.
	CodeInvalidRequest ErrorCode = "InvalidRequest"
)

// Error is the coordinator's single error type, carrying enough
// structure to render the wire Error envelope of spec §6 directly.
type Error struct {
	code    ErrorCode
	text    string
	details interface{}
}

func newError(code ErrorCode, text string, details interface{}) *Error {
	return &Error{code: code, text: text, details: details}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.text)
}

// Code returns the error kind.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Details returns the machine-readable payload attached to the error,
// if any (e.g. NotEnoughAmount's required/available amounts).
func (e *Error) Details() interface{} {
	return e.details
}

func errUnknownTicker(ticker string) *Error {
	return newError(CodeUnknownTicker, fmt.Sprintf("unknown ticker %q", ticker), map[string]string{"ticker": ticker})
}

func errInvalidAssetAmount(amount float64, precision uint8) *Error {
	return newError(CodeInvalidAssetAmount,
		fmt.Sprintf("amount %v is not representable at precision %d", amount, precision),
		map[string]any{"amount": amount, "precision": precision})
}

func errGapLimit() *Error {
	return newError(CodeGapLimit, "address issuance would exceed the gap limit", nil)
}

func errNoMarket() *Error {
	return newError(CodeNoMarket, "no market found for the requested asset pair", nil)
}

func errNoQuote() *Error {
	return newError(CodeNoQuote, "no quote found for the given id", nil)
}

func errQuoteExpired() *Error {
	return newError(CodeQuoteExpired, "quote has expired", nil)
}

func errQuoteError(msg string) *Error {
	return newError(CodeQuoteError, msg, nil)
}

func errNotEnoughAmount(assetID string, required, available uint64) *Error {
	return newError(CodeNotEnoughAmount,
		fmt.Sprintf("insufficient balance of asset %s: required %d, available %d", assetID, required, available),
		map[string]any{"asset_id": assetID, "required": required, "available": available})
}

func errNoCreatedTx() *Error {
	return newError(CodeNoCreatedTx, "no created transaction found for the given txid", nil)
}

func errUtxoCheckFailed(text string) *Error {
	return newError(CodeUtxoCheckFailed, text, nil)
}

func errWallet(inner error) *Error {
	return newError(CodeWallet, inner.Error(), nil)
}

func errWsDisconnected() *Error {
	return newError(CodeWsError, "market server disconnected", map[string]string{"kind": "Disconnected"})
}

func errWsTimeout() *Error {
	return newError(CodeWsError, "market server request timed out", map[string]string{"kind": "Timeout"})
}

func errWsRejected(text string) *Error {
	return newError(CodeWsError, text, map[string]string{"kind": "Rejected"})
}

func errPersistence(inner error) *Error {
	return newError(CodePersistence, inner.Error(), nil)
}

func errCodec(text string) *Error {
	return newError(CodeCodec, text, nil)
}

func errInternal(text string) *Error {
	return newError(CodeInternal, text, nil)
}
