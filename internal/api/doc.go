// Package api exposes the REST surface for submitting rebalancing runs,
// inspecting their progress, and reading provider reputation. It also serves
// the health and metrics endpoints consumed by operators and probes.
package api
