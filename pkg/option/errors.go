// 文件: pkg/option/errors.go

package option

import "github.com/PsyCodeLabs/de-opt-contracts/pkg/settle"

var (
	// Authorization
	ErrNotWriter = settle.New(settle.ClassAuthorization, "caller is not the writer")
	ErrNotHolder = settle.New(settle.ClassAuthorization, "caller is not the holder")

	// State
	ErrAlreadyInitialized = settle.New(settle.ClassState, "option already initialized")
	ErrNotInited          = settle.New(settle.ClassState, "option not initialized")
	ErrAlreadyBought      = settle.New(settle.ClassState, "option already bought")
	ErrAlreadySold        = settle.New(settle.ClassState, "option already sold")
	ErrAlreadyExecuted    = settle.New(settle.ClassState, "option already executed")
	ErrNoHolder           = settle.New(settle.ClassState, "option has no holder")
	ErrOracleUnavailable  = settle.New(settle.ClassState, "oracle price unavailable")
	ErrSettling           = settle.New(settle.ClassState, "option settlement in progress")

	// Timing
	ErrExpired       = settle.New(settle.ClassTiming, "option expired")
	ErrNotExpiredYet = settle.New(settle.ClassTiming, "option not expired yet")
	ErrExpiryInPast  = settle.New(settle.ClassTiming, "expiry must be in the future")

	// Value
	ErrInvalidKind     = settle.New(settle.ClassValue, "invalid option kind")
	ErrZeroPremium     = settle.New(settle.ClassValue, "premium must be a positive integer")
	ErrZeroStrikePrice = settle.New(settle.ClassValue, "strike price must be a positive integer")
	ErrZeroQuantity    = settle.New(settle.ClassValue, "quantity must be a positive integer")
	ErrZeroStrikeValue = settle.New(settle.ClassValue, "strike value rounds to zero")
	ErrMissingLedger   = settle.New(settle.ClassValue, "underlying and quote ledgers are required")
	ErrMissingOracle   = settle.New(settle.ClassValue, "oracle is required")
	ErrLedgerMismatch  = settle.New(settle.ClassValue, "ledger does not match the snapshot")
	ErrInvalidSnapshot = settle.New(settle.ClassValue, "invalid option snapshot")
)
