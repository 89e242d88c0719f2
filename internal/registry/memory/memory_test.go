package memory

import (
	"context"
	"crypto/sha256"
	"testing"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	hub := NewRegistry()

	provider := hub.Bind("provider")
	validator := hub.Bind("validator")
	client := hub.Bind("client")

	first, ref, err := provider.Register(ctx, "rebalancer.local")
	if err != nil {
		t.Fatalf("register provider: %v", err)
	}
	if first.ID != 1 || first.Domain != "rebalancer.local" {
		t.Fatalf("unexpected first identity: %+v", first)
	}
	if ref.Hash == (common.Hash{}) {
		t.Fatal("register must return a transaction reference")
	}

	second, _, err := validator.Register(ctx, "validator.local")
	if err != nil {
		t.Fatalf("register validator: %v", err)
	}
	third, _, err := client.Register(ctx, "client.local")
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	if second.ID != 2 || third.ID != 3 {
		t.Fatalf("IDs not sequential: %d %d", second.ID, third.ID)
	}

	agents := hub.Agents()
	if len(agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(agents))
	}
}

func TestRegisterIsIdempotentPerAddress(t *testing.T) {
	ctx := context.Background()
	hub := NewRegistry()
	client := hub.Bind("provider")

	first, _, err := client.Register(ctx, "rebalancer.local")
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	again, _, err := client.Register(ctx, "other.local")
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if again.ID != first.ID || again.Domain != first.Domain {
		t.Fatalf("re-register must return the original identity: %+v vs %+v", first, again)
	}
	if len(hub.Agents()) != 1 {
		t.Fatalf("duplicate identity created: %d", len(hub.Agents()))
	}
}

func TestResolveByAddress(t *testing.T) {
	ctx := context.Background()
	hub := NewRegistry()
	client := hub.Bind("provider")

	if _, err := client.ResolveByAddress(ctx, client.Address()); xerrors.CodeOf(err) != registry.CodeNotRegistered {
		t.Fatalf("expected NOT_REGISTERED before registration, got %v", err)
	}

	registered, _, err := client.Register(ctx, "rebalancer.local")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	resolved, err := client.ResolveByAddress(ctx, client.Address())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != registered {
		t.Fatalf("resolve mismatch: %+v vs %+v", resolved, registered)
	}

	fetched, err := client.GetAgent(ctx, registered.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if fetched != registered {
		t.Fatalf("get agent mismatch: %+v", fetched)
	}
}

func TestValidationFlowIsRecorded(t *testing.T) {
	ctx := context.Background()
	hub := NewRegistry()
	provider := hub.Bind("provider")
	validator := hub.Bind("validator")

	server, _, err := provider.Register(ctx, "rebalancer.local")
	if err != nil {
		t.Fatalf("register provider: %v", err)
	}
	checker, _, err := validator.Register(ctx, "validator.local")
	if err != nil {
		t.Fatalf("register validator: %v", err)
	}

	dataHash := sha256.Sum256([]byte("proof-package"))
	if _, err := provider.RequestValidation(ctx, checker.ID, server.ID, dataHash); err != nil {
		t.Fatalf("request validation: %v", err)
	}
	if _, err := validator.SubmitValidationResponse(ctx, dataHash, 85); err != nil {
		t.Fatalf("submit response: %v", err)
	}

	requests := hub.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if requests[0].ValidatorID != checker.ID || requests[0].ServerID != server.ID || requests[0].DataHash != dataHash {
		t.Fatalf("request recorded wrong: %+v", requests[0])
	}

	responses := hub.Responses()
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].ResponderID != checker.ID || responses[0].Score != 85 {
		t.Fatalf("response recorded wrong: %+v", responses[0])
	}
}

func TestUnregisteredCallersAreRejected(t *testing.T) {
	ctx := context.Background()
	hub := NewRegistry()
	stranger := hub.Bind("stranger")

	var hash [32]byte
	if _, err := stranger.RequestValidation(ctx, 1, 1, hash); xerrors.CodeOf(err) != registry.CodeNotRegistered {
		t.Fatalf("request by stranger: %v", err)
	}
	if _, err := stranger.SubmitValidationResponse(ctx, hash, 50); xerrors.CodeOf(err) != registry.CodeNotRegistered {
		t.Fatalf("response by stranger: %v", err)
	}
	if _, err := stranger.AuthorizeFeedback(ctx, 1, 1); xerrors.CodeOf(err) != registry.CodeNotRegistered {
		t.Fatalf("grant by stranger: %v", err)
	}
}

func TestAuthorizeFeedbackRecorded(t *testing.T) {
	ctx := context.Background()
	hub := NewRegistry()
	provider := hub.Bind("provider")
	client := hub.Bind("client")

	server, _, err := provider.Register(ctx, "rebalancer.local")
	if err != nil {
		t.Fatalf("register provider: %v", err)
	}
	consumer, _, err := client.Register(ctx, "client.local")
	if err != nil {
		t.Fatalf("register client: %v", err)
	}

	if _, err := provider.AuthorizeFeedback(ctx, consumer.ID, server.ID); err != nil {
		t.Fatalf("authorize feedback: %v", err)
	}

	grants := hub.Grants()
	if len(grants) != 1 || grants[0].ClientID != consumer.ID || grants[0].ServerID != server.ID {
		t.Fatalf("grant recorded wrong: %+v", grants)
	}
}
