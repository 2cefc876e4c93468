package p2pswap

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/swapdb"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/queue"
)

// Update reports the progress of a running swap.
type Update struct {
	// Hash is the swap hash.
	Hash lntypes.Hash

	// Side is our side of the swap.
	Side swap.Side

	// Stage is the stage reached.
	Stage swapdb.Stage

	// Height is the best height when the stage was reached.
	Height int32

	// TxID is the transaction the stage relates to, if any.
	TxID *chainhash.Hash

	// Err is set for failure stages.
	Err error
}

// String returns a short description of the update.
func (u Update) String() string {
	desc := fmt.Sprintf("%v %v %v at height %v", swap.ShortHash(&u.Hash),
		u.Side, u.Stage, u.Height)

	if u.TxID != nil {
		desc += fmt.Sprintf(" tx=%v", u.TxID)
	}

	if u.Err != nil {
		desc += fmt.Sprintf(" err=%v", u.Err)
	}

	return desc
}

// updateForwarder delivers updates to a consumer channel without ever
// blocking the engine. Updates that are still queued when the forwarder is
// stopped are dropped, the final outcome of a swap is its return value.
type updateForwarder struct {
	queue *queue.ConcurrentQueue
	quit  chan struct{}
	done  chan struct{}
}

// newUpdateForwarder starts forwarding to out. A nil channel discards all
// updates.
func newUpdateForwarder(out chan<- Update) *updateForwarder {
	f := &updateForwarder{
		queue: queue.NewConcurrentQueue(10),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	f.queue.Start()

	go func() {
		defer close(f.done)

		for {
			select {
			case item := <-f.queue.ChanOut():
				if out == nil {
					continue
				}

				select {
				case out <- item.(Update):
				case <-f.quit:
					return
				}

			case <-f.quit:
				return
			}
		}
	}()

	return f
}

// send queues an update.
func (f *updateForwarder) send(update Update) {
	select {
	case f.queue.ChanIn() <- update:
	case <-f.quit:
	}
}

// stop shuts the forwarder down and waits for it to exit.
func (f *updateForwarder) stop() {
	close(f.quit)
	<-f.done
	f.queue.Stop()
}
