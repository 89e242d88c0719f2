package registry

import (
	"context"
	"math/big"

	xerrors "ZKRebalance-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// 身份注册域错误码,在本包 init 中登记进统一错误目录。
const (
	CodeNotRegistered       xerrors.Code = "NOT_REGISTERED"
	CodeInsufficientFunds   xerrors.Code = "INSUFFICIENT_FUNDS"
	CodeRegistrationFailed  xerrors.Code = "REGISTRATION_FAILED"
	CodeTransactionFailed   xerrors.Code = "TRANSACTION_FAILED"
	CodeRegistryUnavailable xerrors.Code = "REGISTRY_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeNotRegistered, xerrors.Attributes{
		Message:   "agent not registered",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientFunds, xerrors.Attributes{
		Message:   "insufficient funds for registration",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeRegistrationFailed, xerrors.Attributes{
		Message:   "agent registration failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTransactionFailed, xerrors.Attributes{
		Message:   "registry transaction reverted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeRegistryUnavailable, xerrors.Attributes{
		Message:   "registry endpoint unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// Registration economics enforced by the identity registry. Amounts are in
// wei; gas limits mirror the deployed contract's measured upper bounds.
var (
	// MinRegistrationBalance is the balance floor checked before a
	// registration transaction is even attempted: 0.01 ether.
	MinRegistrationBalance = new(big.Int).Mul(big.NewInt(10_000_000), big.NewInt(1_000_000_000))
	// RegistrationFee is sent as the transaction value of newAgent: 0.005 ether.
	RegistrationFee = new(big.Int).Mul(big.NewInt(5_000_000), big.NewInt(1_000_000_000))
)

// Gas limits per registry operation.
const (
	RegisterGasLimit = 200_000
	RequestGasLimit  = 150_000
	ResponseGasLimit = 120_000
	FeedbackGasLimit = 200_000
)

// AgentIdentity is a row of the identity registry. A zero ID means the
// address has not been registered yet.
type AgentIdentity struct {
	ID      uint64
	Domain  string
	Address common.Address
}

// Registered reports whether the identity refers to an on-chain agent.
func (a AgentIdentity) Registered() bool { return a.ID > 0 }

// TxRef captures the outcome of a confirmed registry transaction.
type TxRef struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Client defines the common interface that any registry driver must provide
// so agent roles can interact with the three registries uniformly. One client
// represents one signing account; its transactions are attributed to that
// account's agent identity.
type Client interface {
	// Address returns the signing account this client acts as.
	Address() common.Address

	// ResolveByAddress looks up the identity bound to an address. Returns a
	// CodeNotRegistered error when the address is unknown to the registry.
	ResolveByAddress(ctx context.Context, addr common.Address) (AgentIdentity, error)

	// Register submits a newAgent transaction binding the client's own
	// address to the given domain and returns the assigned identity.
	Register(ctx context.Context, domain string) (AgentIdentity, TxRef, error)

	// GetAgent fetches the identity record for a known agent ID.
	GetAgent(ctx context.Context, id uint64) (AgentIdentity, error)

	// RequestValidation records on-chain that serverID asks validatorID to
	// validate the content-addressed package behind dataHash.
	RequestValidation(ctx context.Context, validatorID, serverID uint64, dataHash [32]byte) (TxRef, error)

	// SubmitValidationResponse records the validator's score for dataHash.
	// The score is clamped to the uint8 range by the contract ABI.
	SubmitValidationResponse(ctx context.Context, dataHash [32]byte, score uint8) (TxRef, error)

	// AuthorizeFeedback lets the server pre-authorize a client agent to
	// leave reputation feedback about it.
	AuthorizeFeedback(ctx context.Context, clientID, serverID uint64) (TxRef, error)

	// Close releases any network resources held by the driver.
	Close()
}
