package domain

import "errors"

// Client-side failures. These surface before any network call is made.
var (
	ErrEnvironment         = errors.New("no execution environment available")
	ErrProviderUnavailable = errors.New("no signing provider available")
	ErrSDKLoad             = errors.New("encryption engine unavailable")
	ErrInvalidAddress      = errors.New("invalid contract address")
	ErrWalletNotConnected  = errors.New("wallet not connected")
	ErrSubmissionInFlight  = errors.New("submission already in flight")
)

// Ledger-side rejections. These are the revert reasons the state machine
// reports; they propagate verbatim to the caller.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidOptions     = errors.New("option count must be between 2 and 10")
	ErrInvalidBetBounds   = errors.New("invalid bet bounds")
	ErrInsufficientFee    = errors.New("insufficient creation fee")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidOption      = errors.New("winning option out of range")
	ErrNotActive          = errors.New("market not active")
	ErrNotClosed          = errors.New("market not closed")
	ErrNotCancelled       = errors.New("market not cancelled")
	ErrNotSettled         = errors.New("market not settled")
	ErrAlreadyClaimed     = errors.New("payout already claimed")
	ErrAlreadyRefunded    = errors.New("bet already refunded")
	ErrAmountOutOfBounds  = errors.New("bet amount outside market bounds")
	ErrInvalidProof       = errors.New("ciphertext proof rejected")
	ErrInvalidSignature   = errors.New("invalid submission signature")
	ErrMarketEnded        = errors.New("market end time has passed")
)

// Infrastructure errors shared across store and cache implementations.
var (
	ErrLockHeld    = errors.New("lock already held")
	ErrContextDone = errors.New("context cancelled")
)

// codedErrors maps stable wire codes to the sentinel errors they stand for.
// The API layer sends the code alongside the message so remote callers can
// match with errors.Is the same way in-process callers do.
var codedErrors = map[string]error{
	"not_found":            ErrNotFound,
	"invalid_options":      ErrInvalidOptions,
	"invalid_bet_bounds":   ErrInvalidBetBounds,
	"insufficient_fee":     ErrInsufficientFee,
	"unauthorized":         ErrUnauthorized,
	"invalid_option":       ErrInvalidOption,
	"not_active":           ErrNotActive,
	"not_closed":           ErrNotClosed,
	"not_cancelled":        ErrNotCancelled,
	"not_settled":          ErrNotSettled,
	"already_claimed":      ErrAlreadyClaimed,
	"already_refunded":     ErrAlreadyRefunded,
	"amount_out_of_bounds": ErrAmountOutOfBounds,
	"invalid_proof":        ErrInvalidProof,
	"invalid_signature":    ErrInvalidSignature,
	"market_ended":         ErrMarketEnded,
	"invalid_address":      ErrInvalidAddress,
	"lock_held":            ErrLockHeld,
}

// ErrorCode returns the stable wire code for a sentinel error, or "" when the
// error has no coded form.
func ErrorCode(err error) string {
	for code, sentinel := range codedErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// ErrorFromCode resolves a wire code back to its sentinel error. Unknown
// codes return nil.
func ErrorFromCode(code string) error {
	return codedErrors[code]
}
