package domain

import "errors"

// Expected failure modes of the public contracts. Per-unit failures (one
// channel, one occurrence) travel as data inside result sets; only
// request-shape violations and ledger gating reject a call up front.
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidSchedule    = errors.New("invalid schedule")
	ErrNoEligibleChannels = errors.New("no eligible channels")
	ErrRelayRejected      = errors.New("relay rejected payload")
	ErrRelayUnavailable   = errors.New("relay unavailable")
)
