package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	WSURL       string `yaml:"ws_url"`
	ChainID     int64  `yaml:"chain_id"`
	Description string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// DeployedContracts models the manifest written by the contract deployment
// scripts. The three registry addresses are keyed by contract name.
type DeployedContracts struct {
	ChainID   int64             `json:"chain_id,omitempty"`
	Contracts map[string]string `json:"contracts"`
}

// Contract manifest keys.
const (
	ContractIdentity   = "IdentityRegistry"
	ContractValidation = "ValidationRegistry"
	ContractReputation = "ReputationRegistry"
)

// LoadDeployedContracts parses the deployment manifest JSON.
func LoadDeployedContracts(path string) (DeployedContracts, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return DeployedContracts{}, fmt.Errorf("读取合约部署清单失败: %w", err)
	}

	var manifest DeployedContracts
	if err := json.Unmarshal(content, &manifest); err != nil {
		return DeployedContracts{}, fmt.Errorf("解析合约部署清单失败: %w", err)
	}
	if manifest.Contracts == nil {
		manifest.Contracts = map[string]string{}
	}
	return manifest, nil
}

// Address returns the checksummed address recorded for a contract name.
func (d DeployedContracts) Address(name string) (common.Address, error) {
	raw, ok := d.Contracts[name]
	if !ok || strings.TrimSpace(raw) == "" {
		return common.Address{}, fmt.Errorf("部署清单缺少合约 %s 的地址", name)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("合约 %s 的地址格式非法: %s", name, raw)
	}
	return common.HexToAddress(raw), nil
}
