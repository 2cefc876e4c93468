package swapdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/p2pswap/swap"
	"github.com/lightninglabs/p2pswap/swapdb/sqlc"
	"github.com/lightningnetwork/lnd/lntypes"
)

var _ SwapStore = (*BaseDB)(nil)

// CreateSwap stores a new swap.
func (db *BaseDB) CreateSwap(ctx context.Context, swap *Swap) error {
	err := db.ExecTx(ctx, NewSqlWriteOpts(), func(tx *sqlc.Queries) error {
		err := tx.InsertSwap(ctx, sqlc.InsertSwapParams{
			SwapHash:       swap.Hash[:],
			Side:           int16(swap.Side),
			Tokens:         int64(swap.Tokens),
			Timeout:        swap.Timeout,
			Request:        swap.Request,
			Response:       swap.Response,
			Recovery:       swap.Recovery,
			Label:          swap.Label,
			InitiationTime: swap.InitiationTime.UTC(),
		})
		if err != nil {
			return err
		}

		for _, event := range swap.Events {
			err := tx.InsertSwapEvent(
				ctx, eventParams(swap.Hash, event),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})

	return mapSQLError(err)
}

// SetResponse records the response of a swap.
func (db *BaseDB) SetResponse(ctx context.Context, hash lntypes.Hash,
	response, recovery []byte, timeout int32) error {

	err := db.ExecTx(ctx, NewSqlWriteOpts(), func(tx *sqlc.Queries) error {
		if _, err := tx.GetSwap(ctx, hash[:]); err != nil {
			return err
		}

		return tx.UpdateSwapResponse(ctx, sqlc.UpdateSwapResponseParams{
			SwapHash: hash[:],
			Response: response,
			Timeout:  timeout,
			Recovery: recovery,
		})
	})
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrSwapNotFound, hash)
	}

	return mapSQLError(err)
}

// UpdateSwap appends an event to a swap.
func (db *BaseDB) UpdateSwap(ctx context.Context, hash lntypes.Hash,
	event *Event) error {

	err := db.ExecTx(ctx, NewSqlWriteOpts(), func(tx *sqlc.Queries) error {
		if _, err := tx.GetSwap(ctx, hash[:]); err != nil {
			return err
		}

		return tx.InsertSwapEvent(ctx, eventParams(hash, event))
	})
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrSwapNotFound, hash)
	}

	return mapSQLError(err)
}

// FetchSwap returns a single swap with its events.
func (db *BaseDB) FetchSwap(ctx context.Context,
	hash lntypes.Hash) (*Swap, error) {

	var swap *Swap
	err := db.ExecTx(ctx, NewSqlReadOpts(), func(tx *sqlc.Queries) error {
		row, err := tx.GetSwap(ctx, hash[:])
		if err != nil {
			return err
		}

		events, err := tx.GetSwapEvents(ctx, hash[:])
		if err != nil {
			return err
		}

		swap, err = convertSwapRow(row, events)

		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrSwapNotFound, hash)
	}
	if err != nil {
		return nil, mapSQLError(err)
	}

	return swap, nil
}

// FetchSwaps returns all swaps with their events.
func (db *BaseDB) FetchSwaps(ctx context.Context) ([]*Swap, error) {
	var swaps []*Swap
	err := db.ExecTx(ctx, NewSqlReadOpts(), func(tx *sqlc.Queries) error {
		rows, err := tx.GetSwaps(ctx)
		if err != nil {
			return err
		}

		swaps = make([]*Swap, 0, len(rows))
		for _, row := range rows {
			events, err := tx.GetSwapEvents(ctx, row.SwapHash)
			if err != nil {
				return err
			}

			swap, err := convertSwapRow(row, events)
			if err != nil {
				return err
			}

			swaps = append(swaps, swap)
		}

		return nil
	})
	if err != nil {
		return nil, mapSQLError(err)
	}

	return swaps, nil
}

// eventParams converts an event to its row.
func eventParams(hash lntypes.Hash,
	event *Event) sqlc.InsertSwapEventParams {

	params := sqlc.InsertSwapEventParams{
		SwapHash:  hash[:],
		Stage:     int32(event.Stage),
		EventTime: event.Time.UTC(),
		Height:    event.Height,
		ErrorMsg:  event.Err,
	}

	if event.TxID != nil {
		params.Txid = event.TxID[:]
	}

	return params
}

// convertSwapRow converts the rows of a swap.
func convertSwapRow(row sqlc.Swap, events []sqlc.SwapEvent) (*Swap, error) {
	hash, err := lntypes.MakeHash(row.SwapHash)
	if err != nil {
		return nil, err
	}

	result := &Swap{
		Hash:           hash,
		Side:           swap.Side(row.Side),
		Tokens:         btcutil.Amount(row.Tokens),
		Timeout:        row.Timeout,
		Request:        row.Request,
		Response:       row.Response,
		Recovery:       row.Recovery,
		Label:          row.Label,
		InitiationTime: row.InitiationTime.UTC(),
		Events:         make([]*Event, 0, len(events)),
	}

	for _, event := range events {
		converted := &Event{
			Stage:  Stage(event.Stage),
			Time:   event.EventTime.UTC(),
			Height: event.Height,
			Err:    event.ErrorMsg,
		}

		if len(event.Txid) > 0 {
			converted.TxID, err = chainhash.NewHash(event.Txid)
			if err != nil {
				return nil, err
			}
		}

		result.Events = append(result.Events, converted)
	}

	return result, nil
}
