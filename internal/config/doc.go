// Package config provides centralized configuration management for the
// zkrebalanced runtime. Configuration is loaded once from a JSON file in main
// and passed down explicitly; packages never reach for ambient state. Driver
// selection strings here decide which storage, queue and registry backends
// the daemon assembles at startup.
package config
