// Package mysql provides the shared MySQL bootstrap for the persistent
// drivers: pooled connection setup and embedded schema migrations covering
// run state, content packages, and feedback records.
package mysql
