// Package agent contains the three cooperating roles of the rebalancing
// protocol: the provider builds plans and proves them, the validator fetches
// and scores proof packages, and the client evaluates service quality and
// maintains reputation feedback. All roles share a registry-backed identity
// base that registers the agent on first use.
package agent
