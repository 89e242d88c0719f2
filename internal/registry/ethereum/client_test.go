package ethereum

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

func parseABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return parsed
}

func TestABIFragmentsParse(t *testing.T) {
	identity := parseABI(t, identityABIJSON)
	for _, method := range []string{"newAgent", "resolveByAddress", "getAgent"} {
		if _, ok := identity.Methods[method]; !ok {
			t.Fatalf("identity abi missing %s", method)
		}
	}
	if _, ok := identity.Events[eventAgentRegistered]; !ok {
		t.Fatal("identity abi missing AgentRegistered event")
	}

	validation := parseABI(t, validationABIJSON)
	for _, method := range []string{"validationRequest", "validationResponse"} {
		if _, ok := validation.Methods[method]; !ok {
			t.Fatalf("validation abi missing %s", method)
		}
	}

	reputation := parseABI(t, reputationABIJSON)
	if _, ok := reputation.Methods["acceptFeedback"]; !ok {
		t.Fatal("reputation abi missing acceptFeedback")
	}
}

func TestAgentIDFromReceipt(t *testing.T) {
	identityABI := parseABI(t, identityABIJSON)
	registryAddr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	client := &Client{identityABI: identityABI, identityAddr: registryAddr}

	eventID := identityABI.Events[eventAgentRegistered].ID
	agentID := big.NewInt(7)

	receipt := &coretypes.Receipt{Logs: []*coretypes.Log{
		// 其他合约发出的同名事件必须被忽略。
		{
			Address: common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"),
			Topics:  []common.Hash{eventID, common.BigToHash(big.NewInt(99))},
		},
		{
			Address: registryAddr,
			Topics:  []common.Hash{eventID, common.BigToHash(agentID)},
		},
	}}

	id, ok := client.agentIDFromReceipt(receipt)
	if !ok {
		t.Fatal("event not found in receipt")
	}
	if id != 7 {
		t.Fatalf("agent id: got %d want 7", id)
	}
}

func TestAgentIDFromReceiptMissingEvent(t *testing.T) {
	identityABI := parseABI(t, identityABIJSON)
	client := &Client{
		identityABI:  identityABI,
		identityAddr: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	}

	if _, ok := client.agentIDFromReceipt(&coretypes.Receipt{}); ok {
		t.Fatal("empty receipt must not yield an agent id")
	}
}

func TestDecodeIdentity(t *testing.T) {
	addr := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	identity, err := decodeIdentity([]any{big.NewInt(3), "validator.local", addr})
	if err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	if identity.ID != 3 || identity.Domain != "validator.local" || identity.Address != addr {
		t.Fatalf("decoded wrong: %+v", identity)
	}

	if _, err := decodeIdentity([]any{big.NewInt(3)}); err == nil {
		t.Fatal("short output must fail")
	}
	if _, err := decodeIdentity([]any{"3", "validator.local", addr}); err == nil {
		t.Fatal("mistyped output must fail")
	}
}

func TestIsAgentNotFound(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"execution reverted", true},
		{"execution reverted: custom error 0xe93ba223", true},
		{"AgentNotFound()", true},
		{"connection refused", false},
		{"context deadline exceeded", false},
	}
	for _, tc := range cases {
		if got := isAgentNotFound(errString(tc.msg)); got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.msg, got, tc.want)
		}
	}
	if isAgentNotFound(nil) {
		t.Fatal("nil error is not a revert")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
