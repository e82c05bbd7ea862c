package ledger

import (
	"context"
	"crypto/ecdsa"
	stderrors "errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/fundquorum/treasury/internal/errors"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Fund contract ABI: the functions and events the gateway uses
const fundContractABI = `[
	{"type":"function","name":"createFund","stateMutability":"nonpayable",
	 "inputs":[{"name":"name","type":"string"},{"name":"threshold","type":"uint8"}],"outputs":[]},
	{"type":"function","name":"contribute","stateMutability":"payable",
	 "inputs":[{"name":"fundId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"submitWithdrawalRequest","stateMutability":"nonpayable",
	 "inputs":[{"name":"fundId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]},
	{"type":"function","name":"approveRequest","stateMutability":"nonpayable",
	 "inputs":[{"name":"requestId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"rejectRequest","stateMutability":"nonpayable",
	 "inputs":[{"name":"requestId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getFundDetails","stateMutability":"view",
	 "inputs":[{"name":"fundId","type":"uint256"}],
	 "outputs":[{"name":"name","type":"string"},{"name":"threshold","type":"uint8"},{"name":"balance","type":"uint256"},{"name":"contributorCount","type":"uint256"}]},
	{"type":"function","name":"getRequestDetails","stateMutability":"view",
	 "inputs":[{"name":"requestId","type":"uint256"}],
	 "outputs":[{"name":"fundId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"approvals","type":"uint256"},{"name":"rejections","type":"uint256"}]},
	{"type":"event","name":"FundCreated","anonymous":false,
	 "inputs":[{"name":"fundId","type":"uint256","indexed":true},{"name":"creator","type":"address","indexed":true}]},
	{"type":"event","name":"WithdrawalRequested","anonymous":false,
	 "inputs":[{"name":"requestId","type":"uint256","indexed":true},{"name":"fundId","type":"uint256","indexed":true}]}
]`

// ChainClient is the subset of ethclient.Client the gateway needs
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMConfig holds EVM gateway settings
type EVMConfig struct {
	ContractAddress string
	ChainID         *big.Int
	// Keys maps account address to hex private key
	Keys           map[string]string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	MaxGasPrice    *big.Int
	GasLimit       uint64
	// Scale defaults to DefaultScale
	Scale int32
}

// EVMGateway talks to the fund contract on an EVM chain
type EVMGateway struct {
	client   ChainClient
	abi      abi.ABI
	contract common.Address
	config   EVMConfig
	keys     map[common.Address]*ecdsa.PrivateKey
	account  common.Address
	logger   *zap.Logger
}

// DialEVM connects to rpcURL and builds a gateway
func DialEVM(ctx context.Context, rpcURL string, cfg EVMConfig, logger *zap.Logger) (*EVMGateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}

	if cfg.ChainID == nil {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain ID: %w", err)
		}
		cfg.ChainID = chainID
	}

	logger.Info("EVM ledger connected",
		zap.String("rpc", rpcURL),
		zap.String("chain_id", cfg.ChainID.String()),
		zap.String("contract", cfg.ContractAddress))

	return NewEVMGateway(client, cfg, logger)
}

// NewEVMGateway builds a gateway over an existing chain client
func NewEVMGateway(client ChainClient, cfg EVMConfig, logger *zap.Logger) (*EVMGateway, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain ID is required")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 500000
	}
	if cfg.Scale == 0 {
		cfg.Scale = DefaultScale
	}

	parsed, err := abi.JSON(strings.NewReader(fundContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	keys := make(map[common.Address]*ecdsa.PrivateKey, len(cfg.Keys))
	for addr, hexKey := range cfg.Keys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key for %s: %w", addr, err)
		}
		derived := crypto.PubkeyToAddress(key.PublicKey)
		if !strings.EqualFold(derived.Hex(), addr) {
			return nil, fmt.Errorf("private key does not match address %s", addr)
		}
		keys[derived] = key
	}

	return &EVMGateway{
		client:   client,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		config:   cfg,
		keys:     keys,
		logger:   logger,
	}, nil
}

// WithAccount binds an acting account
func (g *EVMGateway) WithAccount(address string) Gateway {
	bound := *g
	bound.account = common.HexToAddress(address)
	return &bound
}

// Account returns the acting account
func (g *EVMGateway) Account() string {
	if g.account == (common.Address{}) {
		return ""
	}
	return g.account.Hex()
}

// CreateFund creates a fund and reads its id from the FundCreated event
func (g *EVMGateway) CreateFund(ctx context.Context, name string, thresholdPercent int) (Receipt, error) {
	if thresholdPercent < 1 || thresholdPercent > 100 {
		return Receipt{}, errors.InvalidInput("threshold_percent", "must be between 1 and 100")
	}
	receipt, err := g.transact(ctx, "createFund", nil, name, uint8(thresholdPercent))
	if err != nil {
		return Receipt{}, err
	}
	id, err := g.eventID(receipt, "FundCreated")
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Settlement: SettlementRef(receipt.TxHash.Hex()), FundRef: FundRef(id.String())}, nil
}

// Contribute sends amount as value to the fund
func (g *EVMGateway) Contribute(ctx context.Context, fund FundRef, amount decimal.Decimal) (Receipt, error) {
	units, err := ToBaseUnits(amount, g.config.Scale)
	if err != nil {
		return Receipt{}, err
	}
	fundID, err := parseRef(string(fund))
	if err != nil {
		return Receipt{}, err
	}
	receipt, err := g.transact(ctx, "contribute", units, fundID)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Settlement: SettlementRef(receipt.TxHash.Hex()), FundRef: fund}, nil
}

// SubmitWithdrawal opens a request and reads its id from the WithdrawalRequested event
func (g *EVMGateway) SubmitWithdrawal(ctx context.Context, fund FundRef, amount decimal.Decimal, reason string) (Receipt, error) {
	units, err := ToBaseUnits(amount, g.config.Scale)
	if err != nil {
		return Receipt{}, err
	}
	fundID, err := parseRef(string(fund))
	if err != nil {
		return Receipt{}, err
	}
	receipt, err := g.transact(ctx, "submitWithdrawalRequest", nil, fundID, units, reason)
	if err != nil {
		return Receipt{}, err
	}
	id, err := g.eventID(receipt, "WithdrawalRequested")
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Settlement: SettlementRef(receipt.TxHash.Hex()),
		FundRef:    fund,
		RequestRef: RequestRef(id.String()),
	}, nil
}

// CastVote calls approveRequest or rejectRequest
func (g *EVMGateway) CastVote(ctx context.Context, request RequestRef, kind model.VoteKind) (Receipt, error) {
	method := "approveRequest"
	if kind == model.VoteReject {
		method = "rejectRequest"
	}
	requestID, err := parseRef(string(request))
	if err != nil {
		return Receipt{}, err
	}
	receipt, err := g.transact(ctx, method, nil, requestID)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Settlement: SettlementRef(receipt.TxHash.Hex()), RequestRef: request}, nil
}

// ReadFundFacts calls getFundDetails
func (g *EVMGateway) ReadFundFacts(ctx context.Context, fund FundRef) (FundFacts, error) {
	fundID, err := parseRef(string(fund))
	if err != nil {
		return FundFacts{}, err
	}
	var out struct {
		Name             string
		Threshold        uint8
		Balance          *big.Int
		ContributorCount *big.Int
	}
	if err := g.call(ctx, "getFundDetails", &out, fundID); err != nil {
		return FundFacts{}, err
	}
	return FundFacts{
		Balance:          FromBaseUnits(out.Balance, g.config.Scale),
		ContributorCount: int(out.ContributorCount.Int64()),
	}, nil
}

// ReadRequestFacts calls getRequestDetails
func (g *EVMGateway) ReadRequestFacts(ctx context.Context, request RequestRef) (RequestFacts, error) {
	requestID, err := parseRef(string(request))
	if err != nil {
		return RequestFacts{}, err
	}
	var out struct {
		FundId     *big.Int
		Amount     *big.Int
		Approvals  *big.Int
		Rejections *big.Int
	}
	if err := g.call(ctx, "getRequestDetails", &out, requestID); err != nil {
		return RequestFacts{}, err
	}
	return RequestFacts{
		ApproveCount: int(out.Approvals.Int64()),
		RejectCount:  int(out.Rejections.Int64()),
	}, nil
}

// Ping checks that the node answers
func (g *EVMGateway) Ping(ctx context.Context) error {
	if _, err := g.client.BlockNumber(ctx); err != nil {
		return errors.LedgerUnreachable("ping", err)
	}
	return nil
}

func (g *EVMGateway) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to pack %s", method), err)
	}

	result, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.contract, Data: data}, nil)
	if err != nil {
		return classify(method, err)
	}
	if len(result) == 0 {
		return errors.LedgerRejected(method, "empty result")
	}

	if err := g.abi.UnpackIntoInterface(out, method, result); err != nil {
		return errors.InternalError(fmt.Sprintf("failed to unpack %s", method), err)
	}
	return nil
}

// transact signs and sends a call, then waits for its receipt. The wait is
// bounded by the confirmation timeout.
func (g *EVMGateway) transact(ctx context.Context, method string, value *big.Int, args ...interface{}) (*types.Receipt, error) {
	key, ok := g.keys[g.account]
	if !ok {
		return nil, errors.LedgerRejected(method, "no signing key for account "+g.account.Hex())
	}
	if value == nil {
		value = big.NewInt(0)
	}

	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.InternalError(fmt.Sprintf("failed to pack %s", method), err)
	}

	// Simulate first so reverts surface with the contract's reason
	msg := ethereum.CallMsg{From: g.account, To: &g.contract, Value: value, Data: data}
	gasLimit, err := g.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, classify(method, err)
	}
	if gasLimit < g.config.GasLimit {
		gasLimit = g.config.GasLimit
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.account)
	if err != nil {
		return nil, classify(method, err)
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify(method, err)
	}
	if g.config.MaxGasPrice != nil && gasPrice.Cmp(g.config.MaxGasPrice) > 0 {
		gasPrice = g.config.MaxGasPrice
	}

	tx := types.NewTransaction(nonce, g.contract, value, gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.config.ChainID), key)
	if err != nil {
		return nil, errors.InternalError("failed to sign transaction", err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, classify(method, err)
	}

	g.logger.Info("Ledger transaction sent",
		zap.String("method", method),
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("account", g.account.Hex()))

	receipt, err := g.awaitReceipt(ctx, method, signedTx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.LedgerRejected(method, "transaction reverted").
			WithDetail("tx_hash", signedTx.Hash().Hex())
	}
	return receipt, nil
}

func (g *EVMGateway) awaitReceipt(ctx context.Context, method string, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.config.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !stderrors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			g.logger.Warn("Receipt lookup failed",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			return nil, errors.LedgerTimeout(method, hash.Hex())
		case <-ticker.C:
		}
	}
}

func (g *EVMGateway) eventID(receipt *types.Receipt, event string) (*big.Int, error) {
	ev, ok := g.abi.Events[event]
	if !ok {
		return nil, errors.InternalError("unknown event "+event, nil)
	}
	for _, l := range receipt.Logs {
		if l.Address == g.contract && len(l.Topics) > 1 && l.Topics[0] == ev.ID {
			return l.Topics[1].Big(), nil
		}
	}
	return nil, errors.LedgerRejected(event, "event not found in receipt").
		WithDetail("tx_hash", receipt.TxHash.Hex())
}

func parseRef(ref string) (*big.Int, error) {
	n, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return nil, errors.InvalidInput("ledger_ref", "must be a non-negative integer")
	}
	return new(big.Int).SetUint64(n), nil
}

// classify maps node errors onto the ledger error taxonomy
func classify(op string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.LedgerTimeout(op, "")
	}
	msg := err.Error()
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return errors.LedgerRejected(op, msg)
		}
	}
	return errors.LedgerUnreachable(op, err)
}

var rejectionMarkers = []string{
	"execution reverted",
	"insufficient funds",
	"nonce too low",
	"replacement transaction underpriced",
	"intrinsic gas too low",
}
