package target

import (
	"fmt"
	"strings"
)

// Identity uniquely names a deployment target within one resolved graph.
type Identity struct {
	Contract string `json:"contract"`
	Network  string `json:"network"`
}

// String renders the identity in its qualified reference form, network:contract.
func (id Identity) String() string {
	return id.Network + ":" + id.Contract
}

// Compare orders identities by network, then contract.
func (id Identity) Compare(other Identity) int {
	if c := strings.Compare(id.Network, other.Network); c != 0 {
		return c
	}
	return strings.Compare(id.Contract, other.Contract)
}

// ParseIdentity parses a fully qualified "network:contract" string.
func ParseIdentity(s string) (Identity, error) {
	network, contract, ok := strings.Cut(s, ":")
	if !ok || network == "" || contract == "" || strings.Contains(contract, ":") {
		return Identity{}, fmt.Errorf("invalid target identity %q: expected network:contract", s)
	}
	return Identity{Contract: contract, Network: network}, nil
}

// Reference is an unresolved dependsOn or links entry as written by the user.
type Reference string

// Split returns the optional network qualifier and the contract name. An
// unqualified reference yields an empty network.
func (r Reference) Split() (network, contract string) {
	if n, c, ok := strings.Cut(string(r), ":"); ok {
		return n, c
	}
	return "", string(r)
}

// Resolve returns the identity this reference names when written inside the
// given network. Unqualified references stay in that network.
func (r Reference) Resolve(fromNetwork string) Identity {
	network, contract := r.Split()
	if network == "" {
		network = fromNetwork
	}
	return Identity{Contract: contract, Network: network}
}
