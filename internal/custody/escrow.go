package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// escrowABI is the minimal surface of the on-chain escrow vault the settler
// drives: a single custodial transfer between 32-byte accounts.
const escrowABI = `[
	{
		"name": "custodialTransfer",
		"type": "function",
		"inputs": [
			{"name": "token", "type": "bytes32"},
			{"name": "from", "type": "bytes32"},
			{"name": "to", "type": "bytes32"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": []
	}
]`

// ChainEscrow is the on-chain Custody: transfers are transactions against an
// escrow vault contract, signed with the settler's operator key.
type ChainEscrow struct {
	eth      *ethclient.Client
	abi      abi.ABI
	vault    common.Address
	chainID  *big.Int
	privKey  *ecdsa.PrivateKey
	operator common.Address
}

func NewChainEscrow(rpcURL, vaultAddr, operatorKeyHex string, chainID int64) (*ChainEscrow, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	privKey, err := crypto.HexToECDSA(operatorKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	return &ChainEscrow{
		eth:      eth,
		abi:      parsed,
		vault:    common.HexToAddress(vaultAddr),
		chainID:  big.NewInt(chainID),
		privKey:  privKey,
		operator: crypto.PubkeyToAddress(privKey.PublicKey),
	}, nil
}

// Transfer submits a custodialTransfer transaction and waits for its receipt.
// A reverted receipt surfaces as an error so callers can roll back their own
// reservations.
func (c *ChainEscrow) Transfer(ctx context.Context, token, from, to common.Hash, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrBadAmount
	}

	calldata, err := c.abi.Pack("custodialTransfer", token, from, to, amount)
	if err != nil {
		return fmt.Errorf("pack calldata: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.operator,
		To:   &c.vault,
		Data: calldata,
	})
	if err != nil {
		return fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, c.vault, big.NewInt(0), gas, gasPrice, calldata)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privKey)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send tx: %w", err)
	}

	receipt, err := waitMined(ctx, c.eth, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("escrow transfer reverted: tx %s", signed.Hash().Hex())
	}
	return nil
}

func waitMined(ctx context.Context, eth *ethclient.Client, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		receipt, err := eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
