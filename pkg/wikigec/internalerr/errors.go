package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrUnsupportedArchive = errors.New("unsupported archive type")
	ErrDumpNotFound       = errors.New("dump archive not found")
	ErrUnknownProfile     = errors.New("unknown gold profile")
	ErrGoldMissing        = errors.New("gold reference corpus missing")
	ErrMalformedLine      = errors.New("malformed extraction line")
	ErrStageFailed        = errors.New("collaborator stage failed")
	ErrLedgerUnavailable  = errors.New("ledger unavailable")
)
