// Package provider turns registry configuration into concrete per-role
// clients, hiding the driver choice from the agent layer.
package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"ZKRebalance-Chain/internal/config"
	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/registry"
	"ZKRebalance-Chain/internal/registry/ethereum"
	"ZKRebalance-Chain/internal/registry/memory"
)

// Agent role names. They double as the env-var suffix for per-role signing
// keys: <private_key_env>_PROVIDER and so on.
const (
	RoleProvider  = "provider"
	RoleValidator = "validator"
	RoleClient    = "client"
)

// Clients bundles one registry handle per agent role. With the ethereum
// driver each role signs with its own key; with the memory driver all three
// share one in-process registry.
type Clients struct {
	Provider  registry.Client
	Validator registry.Client
	Client    registry.Client

	// Hub is non-nil only for the memory driver and exposes the recorded
	// transaction history to tests and diagnostics.
	Hub *memory.Registry
}

// Close releases all role clients.
func (c *Clients) Close() {
	if c == nil {
		return
	}
	for _, client := range []registry.Client{c.Provider, c.Validator, c.Client} {
		if client != nil {
			client.Close()
		}
	}
}

// New instantiates the registry driver selected by cfg.
func New(ctx context.Context, cfg config.RegistryConfig) (*Clients, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		hub := memory.NewRegistry()
		return &Clients{
			Provider:  hub.Bind(RoleProvider),
			Validator: hub.Bind(RoleValidator),
			Client:    hub.Bind(RoleClient),
			Hub:       hub,
		}, nil
	case "ethereum":
		return newEthereumClients(ctx, cfg)
	default:
		return nil, xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("不支持的注册表驱动: %s", cfg.Driver))
	}
}

func newEthereumClients(ctx context.Context, cfg config.RegistryConfig) (*Clients, error) {
	defs, err := registry.LoadChainDefinitions(cfg.ChainsPath)
	if err != nil {
		return nil, err
	}
	chain, ok := defs.Chains[cfg.Chain]
	if !ok {
		return nil, xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("链 %s 未在链配置中定义", cfg.Chain))
	}
	if chainType := strings.ToLower(strings.TrimSpace(chain.Type)); chainType != "" && chainType != "evm" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("链 %s 使用了不支持的类型 %s", cfg.Chain, chain.Type))
	}

	manifest, err := registry.LoadDeployedContracts(cfg.ContractsPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "加载合约部署清单失败")
	}
	identityAddr, err := manifest.Address(registry.ContractIdentity)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "身份注册表地址缺失")
	}
	validationAddr, err := manifest.Address(registry.ContractValidation)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "验证注册表地址缺失")
	}
	reputationAddr, err := manifest.Address(registry.ContractReputation)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "信誉注册表地址缺失")
	}

	chainID := chain.ChainID
	if manifest.ChainID != 0 {
		chainID = manifest.ChainID
	}

	clients := &Clients{}
	for _, role := range []string{RoleProvider, RoleValidator, RoleClient} {
		key, err := roleKey(cfg.PrivateKeyEnv, role)
		if err != nil {
			clients.Close()
			return nil, err
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:       cfg.Chain,
			RPCURL:     chain.RPCURL,
			ChainID:    chainID,
			PrivateKey: key,
			Identity:   identityAddr,
			Validation: validationAddr,
			Reputation: reputationAddr,
			Timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
			Notes:      chain.Description,
		})
		if err != nil {
			clients.Close()
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
				fmt.Sprintf("初始化 %s 角色的注册表客户端失败", role))
		}
		switch role {
		case RoleProvider:
			clients.Provider = client
		case RoleValidator:
			clients.Validator = client
		case RoleClient:
			clients.Client = client
		}
	}
	return clients, nil
}

// roleKey reads the signing key for a role from the environment. Per-role
// variables take precedence over the shared fallback so local setups can run
// all three roles off a single funded account.
func roleKey(baseEnv, role string) (string, error) {
	baseEnv = strings.TrimSpace(baseEnv)
	if baseEnv == "" {
		return "", xerrors.New(xerrors.CodeConfigInvalid, "未配置注册表私钥环境变量名")
	}

	if key := os.Getenv(baseEnv + "_" + strings.ToUpper(role)); strings.TrimSpace(key) != "" {
		return key, nil
	}
	if key := os.Getenv(baseEnv); strings.TrimSpace(key) != "" {
		return key, nil
	}
	return "", xerrors.New(xerrors.CodeConfigInvalid,
		fmt.Sprintf("环境变量 %s 或 %s_%s 中未提供 %s 角色的签名私钥",
			baseEnv, baseEnv, strings.ToUpper(role), role))
}
