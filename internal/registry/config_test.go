package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLoadChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := `chains:
  local:
    type: evm
    rpc_url: http://127.0.0.1:8545
    chain_id: 31337
    description: anvil dev chain
  sepolia:
    type: evm
    rpc_url: https://rpc.sepolia.org
    chain_id: 11155111
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chains file: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load chain definitions: %v", err)
	}
	if len(defs.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(defs.Chains))
	}
	local, ok := defs.Chains["local"]
	if !ok {
		t.Fatal("local chain missing")
	}
	if local.RPCURL != "http://127.0.0.1:8545" || local.ChainID != 31337 {
		t.Fatalf("local chain parsed wrong: %+v", local)
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("  ")
	if err != nil {
		t.Fatalf("empty path should not fail: %v", err)
	}
	if defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty catalog, got %+v", defs.Chains)
	}
}

func TestLoadDeployedContracts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contracts.json")
	content := `{
  "chain_id": 31337,
  "contracts": {
    "IdentityRegistry": "0x5FbDB2315678afecb367f032d93F642f64180aa3",
    "ValidationRegistry": "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
    "ReputationRegistry": "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
  }
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	manifest, err := LoadDeployedContracts(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if manifest.ChainID != 31337 {
		t.Fatalf("chain id: got %d want 31337", manifest.ChainID)
	}

	for _, name := range []string{ContractIdentity, ContractValidation, ContractReputation} {
		addr, err := manifest.Address(name)
		if err != nil {
			t.Fatalf("address of %s: %v", name, err)
		}
		if addr == (common.Address{}) {
			t.Fatalf("address of %s is zero", name)
		}
	}

	if _, err := manifest.Address("TokenRegistry"); err == nil {
		t.Fatal("unknown contract name should fail")
	}
}

func TestDeployedContractsRejectsBadAddress(t *testing.T) {
	manifest := DeployedContracts{Contracts: map[string]string{
		ContractIdentity: "not-an-address",
	}}
	if _, err := manifest.Address(ContractIdentity); err == nil {
		t.Fatal("malformed address should fail")
	}
}
