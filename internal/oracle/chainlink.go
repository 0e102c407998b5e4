package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// latestRoundDataSelector is the 4-byte selector of the Chainlink
// AggregatorV3Interface call latestRoundData().
var latestRoundDataSelector = gethcrypto.Keccak256([]byte("latestRoundData()"))[:4]

// ContractCaller is the subset of the Ethereum RPC the feed uses.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialEVMClient initialises an EVM RPC client for the provided endpoint.
func DialEVMClient(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// ChainlinkFeed reads the latest answer from an on-chain Chainlink
// aggregator. The answer is returned at the aggregator's own decimal
// scale; rescaling to the ledger scale is the caller's concern.
type ChainlinkFeed struct {
	client     ContractCaller
	aggregator common.Address
}

// NewChainlinkFeed constructs a feed over the given aggregator contract.
func NewChainlinkFeed(client ContractCaller, aggregator common.Address) (*ChainlinkFeed, error) {
	if client == nil {
		return nil, fmt.Errorf("contract caller required")
	}
	if (aggregator == common.Address{}) {
		return nil, fmt.Errorf("aggregator address required")
	}
	return &ChainlinkFeed{client: client, aggregator: aggregator}, nil
}

// Latest calls latestRoundData and decodes the answer word.
// The return layout is five 32-byte words: roundId, answer, startedAt,
// updatedAt, answeredInRound. The answer is int256; negative answers are
// rejected.
func (f *ChainlinkFeed) Latest(ctx context.Context) (*big.Int, error) {
	out, err := f.client.CallContract(ctx, ethereum.CallMsg{
		To:   &f.aggregator,
		Data: latestRoundDataSelector,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(out) < 5*32 {
		return nil, fmt.Errorf("%w: short return data (%d bytes)", ErrInvalidPrice, len(out))
	}

	answer := new(big.Int).SetBytes(out[32:64])
	// Two's complement sign bit of int256.
	if out[32]&0x80 != 0 {
		answer.Sub(answer, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return validate(answer)
}
