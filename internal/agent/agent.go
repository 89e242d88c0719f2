package agent

import (
	"context"
	"log/slog"
	"sync"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/registry"
	"ZKRebalance-Chain/pkg/logger"
)

// Base 承载所有角色共享的注册表身份逻辑。
// 一个 Base 绑定一个签名账户与一个代理域名,身份在首次注册后缓存。
type Base struct {
	registry registry.Client
	role     string
	domain   string

	mu       sync.Mutex
	identity registry.AgentIdentity

	log *slog.Logger
}

// NewBase 创建角色基座。role 仅用于日志定位,domain 是代理对外公布的域名。
func NewBase(role, domain string, client registry.Client) *Base {
	return &Base{
		registry: client,
		role:     role,
		domain:   domain,
		log:      logger.Named("agent." + role),
	}
}

// Role 返回角色名。
func (b *Base) Role() string { return b.role }

// Domain 返回代理域名。
func (b *Base) Domain() string { return b.domain }

// Registry 返回底层注册表客户端。
func (b *Base) Registry() registry.Client { return b.registry }

// Identity 返回已缓存的身份;在 EnsureRegistered 成功之前为零值。
func (b *Base) Identity() registry.AgentIdentity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity
}

// EnsureRegistered 保证代理已在身份注册表登记:先按地址反查,
// 查不到才发起注册交易。返回的身份会被缓存,重复调用不再上链。
func (b *Base) EnsureRegistered(ctx context.Context) (registry.AgentIdentity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.identity.Registered() {
		return b.identity, nil
	}
	if b.registry == nil {
		return registry.AgentIdentity{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置注册表客户端")
	}

	identity, err := b.registry.ResolveByAddress(ctx, b.registry.Address())
	switch {
	case err == nil:
		// 地址已被登记:域名不一致时沿用链上记录,重复注册只会回滚。
		if identity.Domain != b.domain {
			b.log.Warn("地址已绑定其他域名,沿用链上身份",
				"agent_id", identity.ID,
				"chain_domain", identity.Domain,
				"local_domain", b.domain,
			)
		} else {
			b.log.Info("代理已注册", "agent_id", identity.ID, "domain", identity.Domain)
		}
		b.identity = identity
		return identity, nil
	case xerrors.CodeOf(err) == registry.CodeNotRegistered:
		// 继续走注册流程。
	default:
		return registry.AgentIdentity{}, err
	}

	identity, ref, err := b.registry.Register(ctx, b.domain)
	if err != nil {
		return registry.AgentIdentity{}, err
	}
	b.identity = identity
	b.log.Info("代理注册完成",
		"agent_id", identity.ID,
		"domain", identity.Domain,
		"tx", ref.Hash.Hex(),
	)
	return identity, nil
}

// requireIdentity 返回已缓存的身份,未注册时报错。
// 供各角色在链上写操作前调用。
func (b *Base) requireIdentity() (registry.AgentIdentity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.identity.Registered() {
		return registry.AgentIdentity{}, xerrors.New(registry.CodeNotRegistered,
			"代理尚未注册,请先调用 EnsureRegistered")
	}
	return b.identity, nil
}
