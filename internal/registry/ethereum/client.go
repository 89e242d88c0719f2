// Package ethereum implements the registry client against real ERC-8004
// contracts on an EVM chain through go-ethereum bindings.
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/registry"
	"ZKRebalance-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Minimal ABI fragments covering the registry functions and events this
// client touches. They must stay in sync with the deployed contracts.
const (
	identityABIJSON = `[
		{"type":"function","name":"newAgent","stateMutability":"payable","inputs":[{"name":"agentDomain","type":"string"},{"name":"agentAddress","type":"address"}],"outputs":[{"name":"agentId","type":"uint256"}]},
		{"type":"function","name":"resolveByAddress","stateMutability":"view","inputs":[{"name":"agentAddress","type":"address"}],"outputs":[{"name":"agentId","type":"uint256"},{"name":"agentDomain","type":"string"},{"name":"agentAddress","type":"address"}]},
		{"type":"function","name":"getAgent","stateMutability":"view","inputs":[{"name":"agentId","type":"uint256"}],"outputs":[{"name":"agentId","type":"uint256"},{"name":"agentDomain","type":"string"},{"name":"agentAddress","type":"address"}]},
		{"type":"event","name":"AgentRegistered","anonymous":false,"inputs":[{"name":"agentId","type":"uint256","indexed":true},{"name":"agentDomain","type":"string","indexed":false},{"name":"agentAddress","type":"address","indexed":false}]}
	]`

	validationABIJSON = `[
		{"type":"function","name":"validationRequest","stateMutability":"nonpayable","inputs":[{"name":"validatorAgentId","type":"uint256"},{"name":"serverAgentId","type":"uint256"},{"name":"dataHash","type":"bytes32"}],"outputs":[]},
		{"type":"function","name":"validationResponse","stateMutability":"nonpayable","inputs":[{"name":"dataHash","type":"bytes32"},{"name":"response","type":"uint8"}],"outputs":[]}
	]`

	reputationABIJSON = `[
		{"type":"function","name":"acceptFeedback","stateMutability":"nonpayable","inputs":[{"name":"agentClientId","type":"uint256"},{"name":"agentServerId","type":"uint256"}],"outputs":[]}
	]`
)

const eventAgentRegistered = "AgentRegistered"

// Custom error selector the identity registry reverts with for unknown
// addresses: bytes4(keccak256("AgentNotFound()")).
const agentNotFoundSelector = "0xe93ba223"

// Config describes how to construct a client bound to one signing account.
type Config struct {
	Name       string
	RPCURL     string
	ChainID    int64
	PrivateKey string
	Identity   common.Address
	Validation common.Address
	Reputation common.Address
	Timeout    time.Duration
	Notes      string
}

// Client implements registry.Client for EVM compatible chains. All
// transactions are serialized through a mutex so the pending-nonce lookup
// inside go-ethereum never races against an in-flight transaction from the
// same account.
type Client struct {
	name    string
	notes   string
	timeout time.Duration

	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	chainID   *big.Int
	address   common.Address
	auth      *bind.TransactOpts

	identityABI  abi.ABI
	identityAddr common.Address
	identity     *bind.BoundContract
	validation   *bind.BoundContract
	reputation   *bind.BoundContract

	mu sync.Mutex
}

var _ registry.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint, derives the signing account
// from the private key, and binds the three registry contracts.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(registry.CodeRegistryUnavailable, "未配置以太坊 RPC 地址")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析签名私钥失败")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(registry.CodeRegistryUnavailable, err, "连接以太坊节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, xerrors.Wrap(registry.CodeRegistryUnavailable, err, "获取链 ID 失败")
		}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "构造交易签名器失败")
	}

	identityABI, err := abi.JSON(strings.NewReader(identityABIJSON))
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析身份注册表 ABI 失败")
	}
	validationABI, err := abi.JSON(strings.NewReader(validationABIJSON))
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析验证注册表 ABI 失败")
	}
	reputationABI, err := abi.JSON(strings.NewReader(reputationABIJSON))
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析信誉注册表 ABI 失败")
	}

	client := &Client{
		name:         cfg.Name,
		notes:        cfg.Notes,
		timeout:      cfg.Timeout,
		rpcClient:    rpcClient,
		eth:          eth,
		chainID:      chainID,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		auth:         auth,
		identityABI:  identityABI,
		identityAddr: cfg.Identity,
		identity:     bind.NewBoundContract(cfg.Identity, identityABI, eth, eth, eth),
		validation:   bind.NewBoundContract(cfg.Validation, validationABI, eth, eth, eth),
		reputation:   bind.NewBoundContract(cfg.Reputation, reputationABI, eth, eth, eth),
	}

	logger.Named("registry").Info("以太坊注册表客户端就绪",
		"chain", cfg.Name,
		"chain_id", chainID.String(),
		"address", client.address.Hex(),
	)
	return client, nil
}

// Address returns the signing account bound to this client.
func (c *Client) Address() common.Address { return c.address }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ResolveByAddress queries the identity registry for the agent bound to addr.
func (c *Client) ResolveByAddress(ctx context.Context, addr common.Address) (registry.AgentIdentity, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	var out []any
	err := c.identity.Call(&bind.CallOpts{Context: ctx, From: c.address}, &out, "resolveByAddress", addr)
	if err != nil {
		if isAgentNotFound(err) {
			return registry.AgentIdentity{}, xerrors.Wrap(registry.CodeNotRegistered, err,
				fmt.Sprintf("地址 %s 未在注册表登记", addr.Hex()))
		}
		return registry.AgentIdentity{}, xerrors.Wrap(registry.CodeRegistryUnavailable, err, "查询代理身份失败")
	}

	identity, err := decodeIdentity(out)
	if err != nil {
		return registry.AgentIdentity{}, err
	}
	if !identity.Registered() {
		return registry.AgentIdentity{}, xerrors.New(registry.CodeNotRegistered,
			fmt.Sprintf("地址 %s 未在注册表登记", addr.Hex()))
	}
	return identity, nil
}

// GetAgent fetches the identity record behind a known agent ID.
func (c *Client) GetAgent(ctx context.Context, id uint64) (registry.AgentIdentity, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	var out []any
	err := c.identity.Call(&bind.CallOpts{Context: ctx, From: c.address}, &out, "getAgent", new(big.Int).SetUint64(id))
	if err != nil {
		if isAgentNotFound(err) {
			return registry.AgentIdentity{}, xerrors.Wrap(registry.CodeNotRegistered, err,
				fmt.Sprintf("代理 %d 不存在", id))
		}
		return registry.AgentIdentity{}, xerrors.Wrap(registry.CodeRegistryUnavailable, err, "查询代理信息失败")
	}
	return decodeIdentity(out)
}

// Register binds the client's own address to domain via newAgent. The
// registry charges a registration fee, so the account balance is checked
// before any gas is spent.
func (c *Client) Register(ctx context.Context, domain string) (registry.AgentIdentity, registry.TxRef, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	balance, err := c.eth.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return registry.AgentIdentity{}, registry.TxRef{}, xerrors.Wrap(registry.CodeRegistryUnavailable, err, "查询账户余额失败")
	}
	if balance.Cmp(registry.MinRegistrationBalance) < 0 {
		return registry.AgentIdentity{}, registry.TxRef{}, xerrors.New(registry.CodeInsufficientFunds,
			fmt.Sprintf("余额不足: 现有 %s wei, 注册至少需要 %s wei", balance.String(), registry.MinRegistrationBalance.String()))
	}

	receipt, ref, err := c.transact(ctx, c.identity, registry.RegisterGasLimit, registry.RegistrationFee,
		"newAgent", domain, c.address)
	if err != nil {
		return registry.AgentIdentity{}, registry.TxRef{}, err
	}

	if id, ok := c.agentIDFromReceipt(receipt); ok {
		logger.Named("registry").Info("代理注册成功", "agent_id", id, "domain", domain, "tx", ref.Hash.Hex())
		return registry.AgentIdentity{ID: id, Domain: domain, Address: c.address}, ref, nil
	}

	// 回执里找不到事件时退回地址反查。
	identity, err := c.ResolveByAddress(ctx, c.address)
	if err != nil {
		return registry.AgentIdentity{}, registry.TxRef{}, xerrors.Wrap(registry.CodeRegistrationFailed, err,
			"注册交易已确认但无法确定代理编号")
	}
	logger.Named("registry").Info("代理注册成功", "agent_id", identity.ID, "domain", domain, "tx", ref.Hash.Hex())
	return identity, ref, nil
}

// RequestValidation records a validation request on-chain.
func (c *Client) RequestValidation(ctx context.Context, validatorID, serverID uint64, dataHash [32]byte) (registry.TxRef, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	_, ref, err := c.transact(ctx, c.validation, registry.RequestGasLimit, nil,
		"validationRequest", new(big.Int).SetUint64(validatorID), new(big.Int).SetUint64(serverID), dataHash)
	return ref, err
}

// SubmitValidationResponse records the validator's score for dataHash.
func (c *Client) SubmitValidationResponse(ctx context.Context, dataHash [32]byte, score uint8) (registry.TxRef, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	_, ref, err := c.transact(ctx, c.validation, registry.ResponseGasLimit, nil,
		"validationResponse", dataHash, score)
	return ref, err
}

// AuthorizeFeedback pre-authorizes clientID to rate serverID.
func (c *Client) AuthorizeFeedback(ctx context.Context, clientID, serverID uint64) (registry.TxRef, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	_, ref, err := c.transact(ctx, c.reputation, registry.FeedbackGasLimit, nil,
		"acceptFeedback", new(big.Int).SetUint64(clientID), new(big.Int).SetUint64(serverID))
	return ref, err
}

// transact sends one contract transaction and waits for its receipt. The
// mutex serializes concurrent writers sharing this account's nonce space.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, gasLimit uint64, value *big.Int, method string, params ...any) (*coretypes.Receipt, registry.TxRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := *c.auth
	opts.Context = ctx
	opts.GasLimit = gasLimit
	opts.Value = value

	tx, err := contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, registry.TxRef{}, xerrors.Wrap(registry.CodeRegistryUnavailable, err,
			fmt.Sprintf("提交 %s 交易失败", method))
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, registry.TxRef{}, xerrors.Wrap(registry.CodeRegistryUnavailable, err,
			fmt.Sprintf("等待 %s 交易确认失败", method))
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, registry.TxRef{}, xerrors.New(registry.CodeTransactionFailed,
			fmt.Sprintf("%s 交易执行失败: tx=%s", method, tx.Hash().Hex()))
	}

	ref := registry.TxRef{Hash: tx.Hash(), GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		ref.BlockNumber = receipt.BlockNumber.Uint64()
	}
	logger.Audit().Info("链上交易确认",
		"method", method,
		"from", c.address.Hex(),
		"tx", ref.Hash.Hex(),
		"block", ref.BlockNumber,
		"gas_used", ref.GasUsed,
	)
	return receipt, ref, nil
}

// agentIDFromReceipt extracts the assigned ID from the AgentRegistered event.
func (c *Client) agentIDFromReceipt(receipt *coretypes.Receipt) (uint64, bool) {
	topic := c.identityABI.Events[eventAgentRegistered].ID
	for _, entry := range receipt.Logs {
		if entry == nil || entry.Address != c.identityAddr || len(entry.Topics) < 2 {
			continue
		}
		if entry.Topics[0] != topic {
			continue
		}
		return new(big.Int).SetBytes(entry.Topics[1].Bytes()).Uint64(), true
	}
	return 0, false
}

func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

func decodeIdentity(out []any) (registry.AgentIdentity, error) {
	if len(out) != 3 {
		return registry.AgentIdentity{}, xerrors.New(xerrors.CodeInternal,
			fmt.Sprintf("注册表返回值数量异常: %d", len(out)))
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return registry.AgentIdentity{}, xerrors.New(xerrors.CodeInternal, "注册表返回的代理编号类型异常")
	}
	domain, ok := out[1].(string)
	if !ok {
		return registry.AgentIdentity{}, xerrors.New(xerrors.CodeInternal, "注册表返回的代理域名类型异常")
	}
	addr, ok := out[2].(common.Address)
	if !ok {
		return registry.AgentIdentity{}, xerrors.New(xerrors.CodeInternal, "注册表返回的代理地址类型异常")
	}
	return registry.AgentIdentity{ID: id.Uint64(), Domain: domain, Address: addr}, nil
}

// isAgentNotFound recognizes the registry's AgentNotFound revert in the
// opaque error strings different RPC providers produce.
func isAgentNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, agentNotFoundSelector) ||
		strings.Contains(msg, "AgentNotFound") ||
		strings.Contains(msg, "execution reverted")
}
