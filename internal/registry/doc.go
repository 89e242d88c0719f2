// Package registry houses the on-chain identity layer for the rebalancing
// agents. It defines the role-agnostic client interface over the three
// ERC-8004 registries (identity, validation, reputation), the YAML chain
// catalog, and the deployed-contract manifest. Concrete drivers live in the
// ethereum and memory subpackages and are selected by the provider package.
package registry
