package target

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/gowebpki/jcs"
)

// ProcessScript is the external executable or module that performs a
// target's run steps and lifecycle hooks. Hook fields hold entry-point names
// in invocation order.
//
// Path is kept as declared and is part of the spec hash. Resolved is the
// absolute location the runner executes; it depends on where the
// declaration was loaded from, so it is left out of the hash.
type ProcessScript struct {
	Path       string   `json:"path"`
	Resolved   string   `json:"-"`
	Before     []string `json:"before,omitempty"`
	After      []string `json:"after,omitempty"`
	BeforeEach []string `json:"beforeEach,omitempty"`
	AfterEach  []string `json:"afterEach,omitempty"`
	// Check names the entry point used as the completion predicate.
	Check string `json:"check,omitempty"`
}

// ID returns the script identity. Hooks are scoped to this identity, so two
// targets naming the same cleaned executable share before/after hooks.
func (p *ProcessScript) ID() string {
	if p == nil {
		return ""
	}
	return filepath.Clean(p.Executable())
}

// Executable returns the path to run: Resolved when set, Path otherwise.
func (p *ProcessScript) Executable() string {
	if p.Resolved != "" {
		return p.Resolved
	}
	return p.Path
}

// Spec is the normalized, still unresolved description of one target: the
// output of the normalizer for a single contract spec.
type Spec struct {
	Identity  Identity       `json:"identity"`
	DeploySet string         `json:"deploySet"`
	Options   []Option       `json:"options,omitempty"`
	DependsOn []Reference    `json:"dependsOn,omitempty"`
	Links     []Reference    `json:"links,omitempty"`
	Process   *ProcessScript `json:"process,omitempty"`

	// Source is the declaration file the spec came from and Path its
	// location inside the declaration (deploySet/network/index).
	Source string `json:"-"`
	Path   string `json:"-"`
}

// Hash returns the content hash of the spec: SHA-256 over its RFC 8785
// canonical JSON form. Source locations are not part of the hash, so moving
// a contract spec between files does not invalidate its execution record.
func (s Spec) Hash() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding spec %s: %w", s.Identity, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing spec %s: %w", s.Identity, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash folds a spec hash with the effective hashes of the targets it
// depends on. Callers must pass upstream hashes in a stable order.
func ChainHash(specHash string, upstream ...string) string {
	h := sha256.New()
	h.Write([]byte(specHash))
	for _, u := range upstream {
		h.Write([]byte{0})
		h.Write([]byte(u))
	}
	return hex.EncodeToString(h.Sum(nil))
}
