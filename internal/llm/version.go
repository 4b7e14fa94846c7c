package llm

import (
	"fmt"
	"strings"
)

// Version tags the recurrent architecture generation. It is fixed for the
// lifetime of a runtime.
type Version int

const (
	VersionUnknown Version = iota
	V4
	V5
	V6
)

func (v Version) String() string {
	switch v {
	case V4:
		return "v4"
	case V5:
		return "v5"
	case V6:
		return "v6"
	default:
		return "unknown"
	}
}

// ParseVersion accepts "v5", "rwkv5" and "5" style tags.
func ParseVersion(s string) (Version, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "rwkv"), "v")
	switch t {
	case "4":
		return V4, nil
	case "5":
		return V5, nil
	case "6":
		return V6, nil
	}
	return VersionUnknown, fmt.Errorf("unsupported architecture %q", s)
}

// Quant selects a per-layer weight precision.
type Quant int

const (
	QuantNone Quant = iota
	QuantInt8
	QuantNF4
)

func (q Quant) String() string {
	switch q {
	case QuantInt8:
		return "int8"
	case QuantNF4:
		return "nf4"
	default:
		return "none"
	}
}
