package ledger

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
)

// weiDecimals is the exponent between wei and ether.
const weiDecimals = -18

// EVMBackend is the subset of ethclient.Client the EVM ledger needs.
type EVMBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMConfig configures an EVM anchor network.
type EVMConfig struct {
	Network       string
	RPCURL        string
	ChainID       int64
	PrivateKey    string
	GasLimit      uint64
	MaxGasPrice   string
	Confirmations uint64
}

// EVM anchors notes as the calldata of a zero-value transaction the anchoring
// account sends to itself.
type EVM struct {
	cfg        EVMConfig
	backend    EVMBackend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger

	// submitted maps note -> tx hash for notes sent by this process
	mu        sync.Mutex
	submitted map[string]common.Hash
	nonceMu   sync.Mutex
}

// DialEVM connects to cfg.RPCURL and returns an EVM ledger.
func DialEVM(cfg EVMConfig, logger *zap.Logger) (*EVM, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	return NewEVM(cfg, client, logger)
}

func NewEVM(cfg EVMConfig, backend EVMBackend, logger *zap.Logger) (*EVM, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	privateKey, err := crypto.HexToECDSA(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	logger.Info("EVM anchor network configured",
		zap.String("network", cfg.Network),
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("anchor_address", address.Hex()))

	return &EVM{
		cfg:        cfg,
		backend:    backend,
		privateKey: privateKey,
		address:    address,
		logger:     logger,
		submitted:  make(map[string]common.Hash),
	}, nil
}

func (e *EVM) Network() string { return e.cfg.Network }

// Address returns the anchoring account.
func (e *EVM) Address() common.Address { return e.address }

func (e *EVM) SubmitNote(ctx context.Context, note []byte) (string, error) {
	if len(note) == 0 {
		return "", apperrors.ContentError(ErrEmptyNote, "note is empty")
	}

	e.nonceMu.Lock()
	defer e.nonceMu.Unlock()

	nonce, err := e.backend.PendingNonceAt(ctx, e.address)
	if err != nil {
		return "", transient(err, "failed to get nonce")
	}
	gasPrice, err := e.gasPrice(ctx)
	if err != nil {
		return "", err
	}
	gas := e.cfg.GasLimit
	if gas == 0 {
		gas, err = e.backend.EstimateGas(ctx, ethereum.CallMsg{From: e.address, To: &e.address, Data: note})
		if err != nil {
			return "", transient(err, "failed to estimate gas")
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.address,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     note,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(e.cfg.ChainID)), e.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign anchor transaction: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return "", transient(err, "failed to send anchor transaction")
	}

	e.mu.Lock()
	e.submitted[string(note)] = signed.Hash()
	e.mu.Unlock()

	e.logger.Debug("anchor transaction sent",
		zap.String("network", e.cfg.Network),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce))
	return signed.Hash().Hex(), nil
}

func (e *EVM) gasPrice(ctx context.Context) (*big.Int, error) {
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, transient(err, "failed to suggest gas price")
	}
	if e.cfg.MaxGasPrice == "" {
		return gasPrice, nil
	}
	maxGasPrice, ok := new(big.Int).SetString(e.cfg.MaxGasPrice, 10)
	if !ok {
		return nil, fmt.Errorf("invalid max gas price %q", e.cfg.MaxGasPrice)
	}
	if gasPrice.Cmp(maxGasPrice) > 0 {
		e.logger.Warn("Suggested gas price exceeds maximum",
			zap.String("suggested", gasPrice.String()),
			zap.String("max", maxGasPrice.String()))
		return maxGasPrice, nil
	}
	return gasPrice, nil
}

// Lookup checks the receipt of a note this process sent, or scans the last
// window blocks for a transaction carrying the note.
func (e *EVM) Lookup(ctx context.Context, note []byte, window uint64) (*LookupResult, error) {
	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, transient(err, "failed to get latest block")
	}

	e.mu.Lock()
	txHash, known := e.submitted[string(note)]
	e.mu.Unlock()

	if !known {
		txHash, known, err = e.scan(ctx, note, head.Number.Uint64(), window)
		if err != nil {
			return nil, err
		}
		if !known {
			return &LookupResult{Found: false}, nil
		}
	}

	receipt, err := e.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &LookupResult{Found: true, TransactionID: txHash.Hex()}, nil
		}
		return nil, transient(err, "failed to get receipt")
	}
	res := &LookupResult{Found: true, TransactionID: txHash.Hex()}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return res, nil
	}

	// the RPC head can lag the node that served the receipt
	if head.Number.Cmp(receipt.BlockNumber) < 0 {
		return res, nil
	}
	depth := new(big.Int).Sub(head.Number, receipt.BlockNumber).Uint64() + 1
	if depth < max(e.cfg.Confirmations, 1) {
		return res, nil
	}

	block, err := e.backend.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, transient(err, "failed to get receipt block")
	}
	confirmedAt := time.Unix(int64(block.Time), 0).UTC()
	res.ConfirmedAt = &confirmedAt
	if receipt.EffectiveGasPrice != nil {
		wei := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
		fee := decimal.NewFromBigInt(wei, weiDecimals)
		res.Fee = &fee
	}
	return res, nil
}

func (e *EVM) scan(ctx context.Context, note []byte, latest, window uint64) (common.Hash, bool, error) {
	if window == 0 {
		window = 1
	}
	lowest := uint64(0)
	if latest+1 > window {
		lowest = latest + 1 - window
	}
	for n := latest + 1; n > lowest; n-- {
		block, err := e.backend.BlockByNumber(ctx, new(big.Int).SetUint64(n-1))
		if err != nil {
			return common.Hash{}, false, transient(err, "failed to get block")
		}
		for _, tx := range block.Transactions() {
			if tx.To() != nil && bytes.Equal(tx.Data(), note) {
				return tx.Hash(), true, nil
			}
		}
	}
	return common.Hash{}, false, nil
}

func transient(err error, message string) error {
	return apperrors.NetworkTransientError(fmt.Errorf("%s: %w", message, err), message)
}
