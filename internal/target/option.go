package target

import (
	"fmt"
	"strings"
)

// OptionKind tags the shape of a deployment option.
type OptionKind int

const (
	// OptionFlag is a bare switch such as "verify" or "--verify".
	OptionFlag OptionKind = iota
	// OptionSetting is a name=value pair such as "gasLimit=3000000".
	OptionSetting
)

func (k OptionKind) String() string {
	switch k {
	case OptionFlag:
		return "flag"
	case OptionSetting:
		return "setting"
	default:
		return fmt.Sprintf("OptionKind(%d)", int(k))
	}
}

// Option is a validated deployment flag. Raw option strings are parsed into
// one of the tagged kinds at the normalizer boundary; unknown shapes never
// reach the scheduler.
type Option struct {
	Kind  OptionKind `json:"kind"`
	Name  string     `json:"name"`
	Value string     `json:"value,omitempty"`
}

// String renders the option back into its canonical textual form.
func (o Option) String() string {
	if o.Kind == OptionSetting {
		return o.Name + "=" + o.Value
	}
	return o.Name
}

// ParseOption parses a raw option string. A leading "--" is accepted and
// dropped. Names are limited to letters, digits, '_', '-' and '.'.
func ParseOption(raw string) (Option, error) {
	s := strings.TrimPrefix(raw, "--")
	if s == "" {
		return Option{}, fmt.Errorf("empty option")
	}

	name, value, isSetting := strings.Cut(s, "=")
	if err := validateOptionName(name); err != nil {
		return Option{}, fmt.Errorf("option %q: %w", raw, err)
	}
	if !isSetting {
		return Option{Kind: OptionFlag, Name: name}, nil
	}
	if strings.ContainsAny(value, "\n\r") {
		return Option{}, fmt.Errorf("option %q: value must be a single line", raw)
	}
	return Option{Kind: OptionSetting, Name: name, Value: value}, nil
}

func validateOptionName(name string) error {
	if name == "" {
		return fmt.Errorf("missing option name")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("invalid character %q in option name", r)
		}
	}
	return nil
}
