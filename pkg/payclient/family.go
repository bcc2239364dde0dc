package payclient

import (
	"fmt"
	"strings"
)

// EndpointFamily identifies one of the provider's independently authenticated
// API surfaces. Each family has its own base URL and its own Credential slot.
type EndpointFamily int

const (
	// Standard is the provider's primary REST API.
	Standard EndpointFamily = iota

	// Alternate is the provider's secondary ("m") REST API.
	Alternate

	familyCount = 2
)

// Families lists every known EndpointFamily in slot order.
var Families = []EndpointFamily{Standard, Alternate}

func (f EndpointFamily) String() string {
	switch f {
	case Standard:
		return "standard"
	case Alternate:
		return "alternate"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

func (f EndpointFamily) valid() bool {
	return f >= 0 && f < familyCount
}

// ParseEndpointFamily maps "standard" / "alternate" (or "m") to an EndpointFamily.
func ParseEndpointFamily(s string) (EndpointFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "std", "":
		return Standard, nil
	case "alternate", "alt", "m":
		return Alternate, nil
	default:
		return 0, fmt.Errorf("payclient: unknown endpoint family %q", s)
	}
}
