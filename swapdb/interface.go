package swapdb

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrSwapNotFound is returned for unknown swap hashes.
	ErrSwapNotFound = errors.New("swap not found")

	// ErrSwapExists is returned when a swap hash is stored twice.
	ErrSwapExists = errors.New("swap already exists")
)

// Swap is a stored swap.
type Swap struct {
	// Hash is the swap hash.
	Hash lntypes.Hash

	// Side is our side of the swap.
	Side swap.Side

	// Tokens is the value of the swap output.
	Tokens btcutil.Amount

	// Timeout is the refund height, zero until the response is known.
	Timeout int32

	// Request is the encoded request.
	Request []byte

	// Response is the encoded response, nil until known.
	Response []byte

	// Recovery is the encoded recovery of our side.
	Recovery []byte

	// Label is an optional operator label.
	Label string

	// InitiationTime is the creation time of the swap.
	InitiationTime time.Time

	// Events are the stages the swap reached, oldest first.
	Events []*Event
}

// LastStage returns the most recent stage of the swap.
func (s *Swap) LastStage() Stage {
	if len(s.Events) == 0 {
		return StageInitiated
	}

	return s.Events[len(s.Events)-1].Stage
}

// Event records a stage reached by a swap.
type Event struct {
	// Stage is the stage reached.
	Stage Stage

	// Time is the time the stage was reached.
	Time time.Time

	// Height is the best height at that time.
	Height int32

	// TxID is the transaction the stage relates to, if any.
	TxID *chainhash.Hash

	// Err is the failure message of failure stages.
	Err string
}

// SwapStore persists swaps.
type SwapStore interface {
	// CreateSwap stores a new swap.
	CreateSwap(ctx context.Context, swap *Swap) error

	// SetResponse records the response of a swap along with the
	// recovery and timeout it implies.
	SetResponse(ctx context.Context, hash lntypes.Hash, response,
		recovery []byte, timeout int32) error

	// UpdateSwap appends an event to a swap.
	UpdateSwap(ctx context.Context, hash lntypes.Hash, event *Event) error

	// FetchSwap returns a single swap with its events.
	FetchSwap(ctx context.Context, hash lntypes.Hash) (*Swap, error)

	// FetchSwaps returns all swaps with their events.
	FetchSwaps(ctx context.Context) ([]*Swap, error)
}
