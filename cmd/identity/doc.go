// Package identity owns tether user accounts: registration, credential checks and the
// username directory used by the social graph.
package identity
