/**
 * @description
 * This package provides a thin client for the Solana JSON-RPC node that the
 * payment service depends on. It exposes the two reads the payment flow needs:
 * the latest blockhash (transaction freshness anchor for the builder) and a
 * confirmed transaction fetched and decoded for instruction inspection (the
 * verifier).
 *
 * @dependencies
 * - github.com/gagliardetto/solana-go: Solana primitives and the RPC client.
 * - github.com/gagliardetto/binary: Binary decoder for serialized transactions.
 */
package solanaclient

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrTransactionNotFound is returned when the network has no confirmed record
// of the requested signature. This is the expected transient state right after
// submission; callers retry rather than treat it as fatal.
var ErrTransactionNotFound = errors.New("transaction not found")

// Client wraps a Solana RPC connection.
type Client struct {
	rpc *rpc.Client
}

// New creates a client for the given RPC endpoint.
func New(rpcURL string) *Client {
	return &Client{rpc: rpc.New(rpcURL)}
}

// LatestBlockhash fetches the most recent blockhash at confirmed commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if out == nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: empty response")
	}
	return out.Value.Blockhash, nil
}

// ConfirmedTransaction fetches the transaction for a signature at confirmed
// commitment and decodes it for instruction inspection. Returns
// ErrTransactionNotFound when the network has not recorded the signature yet.
func (c *Client) ConfirmedTransaction(ctx context.Context, sig solana.Signature) (*solana.Transaction, error) {
	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if out == nil || out.Transaction == nil {
		return nil, ErrTransactionNotFound
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(out.Transaction.GetBinary()))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}
