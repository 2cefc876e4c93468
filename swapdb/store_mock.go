package swapdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"
)

// StoreMock is an in-memory SwapStore for tests.
type StoreMock struct {
	mu     sync.Mutex
	swaps  map[lntypes.Hash]*Swap
	order  []lntypes.Hash
	events chan *Event
}

var _ SwapStore = (*StoreMock)(nil)

// NewStoreMock creates an empty mock store. Every appended event is also
// delivered on Events if there is room.
func NewStoreMock() *StoreMock {
	return &StoreMock{
		swaps:  make(map[lntypes.Hash]*Swap),
		events: make(chan *Event, 100),
	}
}

// Events returns the stream of appended events.
func (s *StoreMock) Events() <-chan *Event {
	return s.events
}

// CreateSwap stores a new swap.
func (s *StoreMock) CreateSwap(_ context.Context, swap *Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.swaps[swap.Hash]; ok {
		return fmt.Errorf("%w: %v", ErrSwapExists, swap.Hash)
	}

	stored := *swap
	stored.Events = append([]*Event(nil), swap.Events...)
	s.swaps[swap.Hash] = &stored
	s.order = append(s.order, swap.Hash)

	return nil
}

// SetResponse records the response of a swap.
func (s *StoreMock) SetResponse(_ context.Context, hash lntypes.Hash,
	response, recovery []byte, timeout int32) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.swaps[hash]
	if !ok {
		return fmt.Errorf("%w: %v", ErrSwapNotFound, hash)
	}

	swap.Response = response
	swap.Recovery = recovery
	swap.Timeout = timeout

	return nil
}

// UpdateSwap appends an event to a swap.
func (s *StoreMock) UpdateSwap(_ context.Context, hash lntypes.Hash,
	event *Event) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.swaps[hash]
	if !ok {
		return fmt.Errorf("%w: %v", ErrSwapNotFound, hash)
	}

	swap.Events = append(swap.Events, event)

	select {
	case s.events <- event:
	default:
	}

	return nil
}

// FetchSwap returns a copy of a swap.
func (s *StoreMock) FetchSwap(_ context.Context,
	hash lntypes.Hash) (*Swap, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.swaps[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrSwapNotFound, hash)
	}

	stored := *swap
	stored.Events = append([]*Event(nil), swap.Events...)

	return &stored, nil
}

// FetchSwaps returns copies of all swaps in creation order.
func (s *StoreMock) FetchSwaps(ctx context.Context) ([]*Swap, error) {
	s.mu.Lock()
	order := append([]lntypes.Hash(nil), s.order...)
	s.mu.Unlock()

	swaps := make([]*Swap, 0, len(order))
	for _, hash := range order {
		swap, err := s.FetchSwap(ctx, hash)
		if err != nil {
			return nil, err
		}

		swaps = append(swaps, swap)
	}

	return swaps, nil
}
