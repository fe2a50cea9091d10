// Package common holds helpers shared by several services.
//
// It provides a lightweight gRPC client wrapper with timeouts and a helper to
// detect the current caller (hostname/username) for audit purposes.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
