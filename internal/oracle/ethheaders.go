package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
)

// EthHeaderSource serves verified headers straight from an Ethereum RPC
// endpoint. Trusting the endpoint stands in for running a full light client;
// the confirmation and freshness rules still apply on top.
type EthHeaderSource struct {
	client *ethclient.Client
}

func NewEthHeaderSource(rpcURL string) (*EthHeaderSource, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial header source: %w", err)
	}
	return &EthHeaderSource{client: client}, nil
}

func (s *EthHeaderSource) Tip(ctx context.Context) (Header, error) {
	h, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Header{}, fmt.Errorf("fetch tip: %w", err)
	}
	return convertHeader(h.Number.Uint64(), h.Time, h.Root), nil
}

func (s *EthHeaderSource) ByNumber(ctx context.Context, number uint64) (Header, error) {
	h, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return Header{}, fmt.Errorf("fetch header %d: %w", number, err)
	}
	return convertHeader(h.Number.Uint64(), h.Time, h.Root), nil
}

func convertHeader(number, unixTime uint64, root [32]byte) Header {
	return Header{Number: number, Time: uint32(unixTime), PayloadRoot: root}
}
