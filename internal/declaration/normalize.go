package declaration

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/specialistvlad/deploygrid/internal/target"
)

var contractFields = map[string]struct{}{
	"contract": {}, "links": {}, "options": {}, "dependsOn": {}, "process": {},
}

var processFields = map[string]struct{}{
	"path": {}, "before": {}, "after": {}, "beforeEach": {}, "afterEach": {}, "check": {},
}

// Normalize turns a loaded declaration into target specs. It is a pure
// transform: deploy sets and networks are visited in sorted order, contract
// specs in list order, so the output is deterministic for a given input.
// References stay unresolved; the graph builder resolves them.
//
// Relative process script paths are resolved against the directory of the
// file that declared them.
func Normalize(decl *Declaration) ([]target.Spec, error) {
	setNames := make([]string, 0, len(decl.Sets))
	for name := range decl.Sets {
		setNames = append(setNames, name)
	}
	sort.Strings(setNames)

	var specs []target.Spec
	for _, setName := range setNames {
		n := normalizer{deploySet: setName, source: decl.Sources[setName]}
		if setName == "" {
			return nil, n.fail("", "deploy set name must be a non-empty string")
		}
		out, err := n.deploySetSpecs(decl.Sets[setName])
		if err != nil {
			return nil, err
		}
		specs = append(specs, out...)
	}
	if err := checkScriptHooks(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// checkScriptHooks rejects targets that share a script but disagree on its
// before or after hooks, which run once per script.
func checkScriptHooks(specs []target.Spec) error {
	first := make(map[string]target.Spec)
	for _, s := range specs {
		if s.Process == nil {
			continue
		}
		id := s.Process.ID()
		prev, ok := first[id]
		if !ok {
			first[id] = s
			continue
		}
		if !slices.Equal(prev.Process.Before, s.Process.Before) || !slices.Equal(prev.Process.After, s.Process.After) {
			return &MalformedDeclarationError{
				Path:   path.Join(s.Path, "process"),
				Reason: fmt.Sprintf("before/after hooks of %s differ from those declared at %s", s.Process.Path, prev.Path),
				Source: s.Source,
			}
		}
	}
	return nil
}

type normalizer struct {
	deploySet string
	source    string
}

func (n normalizer) fail(p, reason string, args ...any) error {
	return &MalformedDeclarationError{
		Path:   path.Join(n.deploySet, p),
		Reason: fmt.Sprintf(reason, args...),
		Source: n.source,
	}
}

// resolve locates a declared script path relative to the declaring file and
// makes it absolute, so the runner never falls back to a $PATH lookup.
func (n normalizer) resolve(p string) string {
	if !filepath.IsAbs(p) && n.source != "" {
		p = filepath.Join(filepath.Dir(n.source), p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// deploySetSpecs accepts either a network mapping or a list of network
// mappings, whose per-network lists are concatenated in order.
func (n normalizer) deploySetSpecs(raw any) ([]target.Spec, error) {
	networks := map[string][]any{}
	merge := func(m map[string]any, where string) error {
		for network, value := range m {
			list, ok := value.([]any)
			if !ok && value != nil {
				return n.fail(path.Join(where, network), "network must map to a list of contract specs, got %s", describe(value))
			}
			networks[network] = append(networks[network], list...)
		}
		return nil
	}

	switch v := raw.(type) {
	case map[string]any:
		if err := merge(v, ""); err != nil {
			return nil, err
		}
	case []any:
		for i, entry := range v {
			m, ok := entry.(map[string]any)
			if !ok {
				return nil, n.fail(strconv.Itoa(i), "deploy set entries must be network mappings, got %s", describe(entry))
			}
			if err := merge(m, ""); err != nil {
				return nil, err
			}
		}
	default:
		return nil, n.fail("", "deploy set must be a mapping of networks, got %s", describe(raw))
	}

	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)

	var specs []target.Spec
	for _, network := range names {
		if strings.TrimSpace(network) == "" {
			return nil, n.fail(network, "network name must be a non-empty string")
		}
		for i, entry := range networks[network] {
			spec, err := n.contractSpec(network, i, entry)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

func (n normalizer) contractSpec(network string, index int, raw any) (target.Spec, error) {
	at := path.Join(network, strconv.Itoa(index))
	m, ok := raw.(map[string]any)
	if !ok {
		return target.Spec{}, n.fail(at, "contract spec must be a mapping, got %s", describe(raw))
	}
	for key := range m {
		if _, known := contractFields[key]; !known {
			return target.Spec{}, n.fail(path.Join(at, key), "unknown field")
		}
	}

	contract, ok := m["contract"].(string)
	if !ok || strings.TrimSpace(contract) == "" {
		return target.Spec{}, n.fail(path.Join(at, "contract"), "contract name must be a non-empty string")
	}
	if strings.Contains(contract, ":") {
		return target.Spec{}, n.fail(path.Join(at, "contract"), "contract name must not contain ':'")
	}

	spec := target.Spec{
		Identity:  target.Identity{Contract: contract, Network: network},
		DeploySet: n.deploySet,
		Source:    n.source,
		Path:      path.Join(n.deploySet, at),
	}

	links, err := n.stringList(m, at, "links")
	if err != nil {
		return target.Spec{}, err
	}
	if spec.Links, err = n.references(links, at, "links"); err != nil {
		return target.Spec{}, err
	}

	deps, err := n.stringList(m, at, "dependsOn")
	if err != nil {
		return target.Spec{}, err
	}
	if spec.DependsOn, err = n.references(deps, at, "dependsOn"); err != nil {
		return target.Spec{}, err
	}

	options, err := n.stringList(m, at, "options")
	if err != nil {
		return target.Spec{}, err
	}
	for _, raw := range options {
		opt, err := target.ParseOption(raw)
		if err != nil {
			return target.Spec{}, n.fail(path.Join(at, "options"), "%v", err)
		}
		spec.Options = append(spec.Options, opt)
	}

	if rawProcess, present := m["process"]; present && rawProcess != nil {
		if spec.Process, err = n.process(rawProcess, path.Join(at, "process")); err != nil {
			return target.Spec{}, err
		}
	}
	return spec, nil
}

func (n normalizer) stringList(m map[string]any, at, field string) ([]string, error) {
	raw, present := m[field]
	if !present || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, n.fail(path.Join(at, field), "must be a list of strings, got %s", describe(raw))
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, n.fail(path.Join(at, field), "element %d must be a string, got %s", i, describe(item))
		}
		out = append(out, s)
	}
	return out, nil
}

func (n normalizer) references(raw []string, at, field string) ([]target.Reference, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]target.Reference, 0, len(raw))
	for i, s := range raw {
		ref := target.Reference(strings.TrimSpace(s))
		network, contract := ref.Split()
		qualified := strings.Contains(string(ref), ":")
		if contract == "" || strings.Contains(contract, ":") || (qualified && network == "") {
			return nil, n.fail(path.Join(at, field), "element %d: invalid reference %q, expected contract or network:contract", i, s)
		}
		out = append(out, ref)
	}
	return out, nil
}

func (n normalizer) process(raw any, at string) (*target.ProcessScript, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, n.fail(at, "process must be a mapping, got %s", describe(raw))
	}
	for key := range m {
		if _, known := processFields[key]; !known {
			return nil, n.fail(path.Join(at, key), "unknown field")
		}
	}

	p, ok := m["path"].(string)
	if !ok || strings.TrimSpace(p) == "" {
		return nil, n.fail(path.Join(at, "path"), "process path must be a non-empty string")
	}
	script := &target.ProcessScript{Path: p, Resolved: n.resolve(p)}

	hooks := []struct {
		field string
		dst   *[]string
	}{
		{"before", &script.Before},
		{"after", &script.After},
		{"beforeEach", &script.BeforeEach},
		{"afterEach", &script.AfterEach},
	}
	for _, h := range hooks {
		names, err := n.entryNames(m[h.field], path.Join(at, h.field))
		if err != nil {
			return nil, err
		}
		*h.dst = names
	}

	if rawCheck, present := m["check"]; present && rawCheck != nil {
		check, ok := rawCheck.(string)
		if !ok || strings.TrimSpace(check) == "" {
			return nil, n.fail(path.Join(at, "check"), "check must be a non-empty entry point name")
		}
		script.Check = check
	}
	return script, nil
}

// entryNames accepts a single entry-point name or a list of them.
func (n normalizer) entryNames(raw any, at string) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, n.fail(at, "entry point name must be non-empty")
		}
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, n.fail(at, "element %d must be a non-empty entry point name", i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, n.fail(at, "must be an entry point name or a list of names, got %s", describe(raw))
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64, float64, uint64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "mapping"
	default:
		return fmt.Sprintf("%T", v)
	}
}
