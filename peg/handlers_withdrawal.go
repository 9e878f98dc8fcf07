package peg

import (
	"context"
	"encoding/hex"

	"github.com/BlockscapeNetwork/nomic/accounts"
	"github.com/BlockscapeNetwork/nomic/btcpeg"
	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/events"
	"github.com/BlockscapeNetwork/nomic/store"
	nwire "github.com/BlockscapeNetwork/nomic/wire"
)

// WithdrawalTx debits amount from the signed-for account and queues a
// pending Withdrawal paying out to an opaque destination script.
func (h *Handlers) WithdrawalTx(ctx context.Context, kv store.KV, in *nwire.Withdrawal) error {
	if len(in.From) != 33 {
		prometheusWithdrawalsRejected.Inc()
		return errors.New(errors.ERR_BAD_ADDRESS, "peg: from address must be 33 bytes, got %d", len(in.From))
	}
	var from btcpeg.Address
	copy(from[:], in.From)

	acctStore := accounts.NewStore(kv, nil)
	acct, found, err := acctStore.Get(ctx, from)
	if err != nil {
		return err
	}
	if !found {
		prometheusWithdrawalsRejected.Inc()
		return errors.New(errors.ERR_NO_ACCOUNT, "peg: no account for withdrawing address")
	}
	if acct.Balance < in.Amount {
		prometheusWithdrawalsRejected.Inc()
		return errors.New(errors.ERR_INSUFFICIENT_BALANCE, "peg: balance %d below withdrawal amount %d", acct.Balance, in.Amount)
	}
	if in.Nonce != acct.Nonce {
		prometheusWithdrawalsRejected.Inc()
		return errors.New(errors.ERR_BAD_NONCE, "peg: expected nonce %d, got %d", acct.Nonce, in.Nonce)
	}

	if len(in.Signature) != 64 {
		prometheusWithdrawalsRejected.Inc()
		return errors.New(errors.ERR_BAD_SIGNATURE, "peg: signature must be 64 bytes, got %d", len(in.Signature))
	}
	var sig btcpeg.Signature
	copy(sig[:], in.Signature)

	hash := withdrawalSigningHash(in.From, in.To, in.Amount, in.Nonce)
	ok, err := btcpeg.Verify(from, hash[:], sig)
	if err != nil || !ok {
		prometheusWithdrawalsRejected.Inc()
		return errors.New(errors.ERR_BAD_SIGNATURE, "peg: signature verification failed")
	}

	acct.Nonce++
	acct.Balance -= in.Amount
	if err := acctStore.Put(ctx, from, acct); err != nil {
		return err
	}

	state, err := Load(ctx, kv)
	if err != nil {
		return err
	}
	state.PendingWithdrawals = append(state.PendingWithdrawals, Withdrawal{
		Value:  in.Amount,
		Script: append([]byte(nil), in.To...),
	})
	if err := state.Save(ctx, kv); err != nil {
		return err
	}

	h.publish(events.KindWithdrawal, in.From, events.WithdrawalPayload{
		Sender:      hex.EncodeToString(in.From),
		Destination: hex.EncodeToString(in.To),
		Value:       in.Amount,
		Nonce:       in.Nonce,
	})
	prometheusWithdrawalsProcessed.Inc()
	return nil
}
