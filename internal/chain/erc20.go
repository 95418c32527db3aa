// Package chain connects the market to the settlement chain: the ERC20
// settlement token held by the operator escrow, and the block head used as
// the rate limiter's ordering unit. In-memory variants serve development.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: parse erc20 abi: " + err.Error())
	}
	return parsed
}

// Backend is the subset of ethclient.Client the token adapter needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ERC20Config configures an on-chain token.
type ERC20Config struct {
	Token          common.Address
	ChainID        *big.Int
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// ERC20 is a domain.Token backed by an ERC20 contract. The operator key's
// address is the escrow: users approve it, it pulls with transferFrom and
// pays out with transfer.
type ERC20 struct {
	backend Backend
	cfg     ERC20Config
	key     *ecdsa.PrivateKey
	escrow  common.Address
	logger  *slog.Logger
}

// NewERC20 creates the adapter.
func NewERC20(backend Backend, key *ecdsa.PrivateKey, cfg ERC20Config, logger *slog.Logger) *ERC20 {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &ERC20{
		backend: backend,
		cfg:     cfg,
		key:     key,
		escrow:  crypto.PubkeyToAddress(key.PublicKey),
		logger:  logger.With(slog.String("component", "erc20"), slog.String("token", cfg.Token.Hex())),
	}
}

// Address implements domain.Token.
func (t *ERC20) Address() domain.Address { return t.cfg.Token }

// Escrow implements domain.Token.
func (t *ERC20) Escrow() domain.Address { return t.escrow }

// Allowance implements domain.Token.
func (t *ERC20) Allowance(ctx context.Context, owner domain.Address) (domain.Amount, error) {
	v, err := t.callUint(ctx, "allowance", owner, t.escrow)
	if err != nil {
		return 0, err
	}
	return clampAmount(v), nil
}

// BalanceOf implements domain.Token.
func (t *ERC20) BalanceOf(ctx context.Context, account domain.Address) (domain.Amount, error) {
	v, err := t.callUint(ctx, "balanceOf", account)
	if err != nil {
		return 0, err
	}
	return domain.AmountFromBig(v)
}

// Decimals reads the token precision.
func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("chain: pack decimals: %w", err)
	}
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &t.cfg.Token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: call decimals: %w", err)
	}
	var dec uint8
	if err := erc20ABI.UnpackIntoInterface(&dec, "decimals", out); err != nil {
		return 0, fmt.Errorf("chain: unpack decimals: %w", err)
	}
	return dec, nil
}

// Pull implements domain.Token.
func (t *ERC20) Pull(ctx context.Context, from domain.Address, amount domain.Amount) error {
	data, err := erc20ABI.Pack("transferFrom", from, t.escrow, amount.BigInt())
	if err != nil {
		return fmt.Errorf("chain: pack transferFrom: %w", err)
	}
	return t.send(ctx, "transferFrom", data)
}

// Push implements domain.Token.
func (t *ERC20) Push(ctx context.Context, to domain.Address, amount domain.Amount) error {
	data, err := erc20ABI.Pack("transfer", to, amount.BigInt())
	if err != nil {
		return fmt.Errorf("chain: pack transfer: %w", err)
	}
	return t.send(ctx, "transfer", data)
}

func (t *ERC20) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &t.cfg.Token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	var v *big.Int
	if err := erc20ABI.UnpackIntoInterface(&v, method, out); err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return v, nil
}

func (t *ERC20) send(ctx context.Context, method string, data []byte) error {
	nonce, err := t.backend.PendingNonceAt(ctx, t.escrow)
	if err != nil {
		return fmt.Errorf("chain: nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("chain: gas price: %w", err)
	}
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.escrow, To: &t.cfg.Token, Data: data})
	if err != nil {
		// A reverting estimate means the transfer itself would fail.
		return domain.Fail(domain.TransferFailed, "method", method, "reason", err.Error())
	}

	tx := types.NewTransaction(nonce, t.cfg.Token, big.NewInt(0), gas*12/10, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(t.cfg.ChainID), t.key)
	if err != nil {
		return fmt.Errorf("chain: sign %s: %w", method, err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("chain: send %s: %w", method, err)
	}

	receipt, err := t.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.Fail(domain.TransferFailed, "method", method, "tx", signed.Hash().Hex())
	}
	t.logger.InfoContext(ctx, "chain: transfer mined",
		slog.String("method", method),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return nil
}

func (t *ERC20) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: timeout waiting for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// clampAmount maps unlimited approvals (max uint256) onto the largest Amount.
func clampAmount(v *big.Int) domain.Amount {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if !v.IsInt64() {
		return domain.Amount(1<<63 - 1)
	}
	return domain.Amount(v.Int64())
}
