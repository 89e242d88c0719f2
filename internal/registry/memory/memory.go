// Package memory provides an in-process registry driver for development and
// tests. A single Registry plays the role of the chain: all role clients
// bound to it share one identity namespace and one transaction history.
package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationRequest is one recorded validationRequest call.
type ValidationRequest struct {
	ValidatorID uint64
	ServerID    uint64
	DataHash    [32]byte
}

// ValidationResponse is one recorded validationResponse call.
type ValidationResponse struct {
	ResponderID uint64
	DataHash    [32]byte
	Score       uint8
}

// FeedbackGrant is one recorded acceptFeedback call.
type FeedbackGrant struct {
	ClientID uint64
	ServerID uint64
}

// Registry is the shared in-memory stand-in for the three on-chain
// registries. Agent IDs are assigned sequentially starting at 1, matching
// the identity contract's behavior.
type Registry struct {
	mu        sync.Mutex
	nextID    uint64
	byAddress map[common.Address]registry.AgentIdentity
	byID      map[uint64]registry.AgentIdentity
	requests  []ValidationRequest
	responses []ValidationResponse
	grants    []FeedbackGrant
	txSeq     uint64
}

// NewRegistry constructs an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddress: make(map[common.Address]registry.AgentIdentity),
		byID:      make(map[uint64]registry.AgentIdentity),
	}
}

// Bind returns a client whose transactions act on this registry under a
// deterministic address derived from seed. Distinct seeds get distinct
// accounts, so one process can host several agent roles.
func (r *Registry) Bind(seed string) *Client {
	digest := sha256.Sum256([]byte("zkrebalance-registry:" + seed))
	return &Client{hub: r, address: common.BytesToAddress(digest[:20])}
}

// Requests returns a copy of all recorded validation requests.
func (r *Registry) Requests() []ValidationRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ValidationRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// Responses returns a copy of all recorded validation responses.
func (r *Registry) Responses() []ValidationResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ValidationResponse, len(r.responses))
	copy(out, r.responses)
	return out
}

// Grants returns a copy of all recorded feedback authorizations.
func (r *Registry) Grants() []FeedbackGrant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FeedbackGrant, len(r.grants))
	copy(out, r.grants)
	return out
}

// Agents lists all registered identities ordered by ID.
func (r *Registry) Agents() []registry.AgentIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registry.AgentIdentity, 0, len(r.byID))
	for _, identity := range r.byID {
		out = append(out, identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) nextTxRef() registry.TxRef {
	r.txSeq++
	digest := sha256.Sum256([]byte(fmt.Sprintf("tx:%d", r.txSeq)))
	return registry.TxRef{
		Hash:        common.BytesToHash(digest[:]),
		BlockNumber: r.txSeq,
		GasUsed:     21_000,
	}
}

// Client is one signing account bound to the shared registry.
type Client struct {
	hub     *Registry
	address common.Address
}

var _ registry.Client = (*Client)(nil)

// Address returns the account this client signs as.
func (c *Client) Address() common.Address { return c.address }

// Close is a no-op; the registry owns no external resources.
func (c *Client) Close() {}

// ResolveByAddress looks up the identity bound to addr.
func (c *Client) ResolveByAddress(_ context.Context, addr common.Address) (registry.AgentIdentity, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()

	identity, ok := c.hub.byAddress[addr]
	if !ok {
		return registry.AgentIdentity{}, xerrors.New(registry.CodeNotRegistered,
			fmt.Sprintf("地址 %s 未在注册表登记", addr.Hex()))
	}
	return identity, nil
}

// GetAgent fetches the identity record behind a known agent ID.
func (c *Client) GetAgent(_ context.Context, id uint64) (registry.AgentIdentity, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()

	identity, ok := c.hub.byID[id]
	if !ok {
		return registry.AgentIdentity{}, xerrors.New(registry.CodeNotRegistered,
			fmt.Sprintf("代理 %d 不存在", id))
	}
	return identity, nil
}

// Register binds this client's address to domain. Re-registering an address
// returns the existing identity unchanged.
func (c *Client) Register(_ context.Context, domain string) (registry.AgentIdentity, registry.TxRef, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()

	if identity, ok := c.hub.byAddress[c.address]; ok {
		return identity, c.hub.nextTxRef(), nil
	}

	c.hub.nextID++
	identity := registry.AgentIdentity{ID: c.hub.nextID, Domain: domain, Address: c.address}
	c.hub.byAddress[c.address] = identity
	c.hub.byID[identity.ID] = identity
	return identity, c.hub.nextTxRef(), nil
}

// RequestValidation records a validation request. The calling account must
// be registered, mirroring the contract's sender check.
func (c *Client) RequestValidation(_ context.Context, validatorID, serverID uint64, dataHash [32]byte) (registry.TxRef, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()

	if _, ok := c.hub.byAddress[c.address]; !ok {
		return registry.TxRef{}, xerrors.New(registry.CodeNotRegistered, "发起验证请求前必须先注册")
	}
	if _, ok := c.hub.byID[validatorID]; !ok {
		return registry.TxRef{}, xerrors.New(registry.CodeNotRegistered,
			fmt.Sprintf("验证者 %d 不存在", validatorID))
	}

	c.hub.requests = append(c.hub.requests, ValidationRequest{
		ValidatorID: validatorID,
		ServerID:    serverID,
		DataHash:    dataHash,
	})
	return c.hub.nextTxRef(), nil
}

// SubmitValidationResponse records the caller's score for dataHash.
func (c *Client) SubmitValidationResponse(_ context.Context, dataHash [32]byte, score uint8) (registry.TxRef, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()

	identity, ok := c.hub.byAddress[c.address]
	if !ok {
		return registry.TxRef{}, xerrors.New(registry.CodeNotRegistered, "提交验证响应前必须先注册")
	}

	c.hub.responses = append(c.hub.responses, ValidationResponse{
		ResponderID: identity.ID,
		DataHash:    dataHash,
		Score:       score,
	})
	return c.hub.nextTxRef(), nil
}

// AuthorizeFeedback records that clientID may rate serverID.
func (c *Client) AuthorizeFeedback(_ context.Context, clientID, serverID uint64) (registry.TxRef, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()

	if _, ok := c.hub.byAddress[c.address]; !ok {
		return registry.TxRef{}, xerrors.New(registry.CodeNotRegistered, "授权反馈前必须先注册")
	}
	if _, ok := c.hub.byID[clientID]; !ok {
		return registry.TxRef{}, xerrors.New(registry.CodeNotRegistered,
			fmt.Sprintf("客户代理 %d 不存在", clientID))
	}

	c.hub.grants = append(c.hub.grants, FeedbackGrant{ClientID: clientID, ServerID: serverID})
	return c.hub.nextTxRef(), nil
}
