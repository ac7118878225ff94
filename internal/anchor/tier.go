package anchor

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a conformance tier: a declared ceiling on how long recorded
// evidence may wait before it is anchored. The tier name travels on
// every batch and anchor record so verifiers can judge the stream's
// claims without access to configuration.
type Tier string

const (
	Bronze Tier = "BRONZE"
	Silver Tier = "SILVER"
	Gold   Tier = "GOLD"
)

// ParseTier resolves a tier name case-insensitively. The empty string
// means Silver.
func ParseTier(name string) (Tier, error) {
	switch strings.ToUpper(name) {
	case "":
		return Silver, nil
	case "BRONZE":
		return Bronze, nil
	case "SILVER":
		return Silver, nil
	case "GOLD":
		return Gold, nil
	default:
		return "", fmt.Errorf("unknown conformance tier: %q", name)
	}
}

// MaxInterval returns the longest anchor interval the tier permits.
func (t Tier) MaxInterval() time.Duration {
	switch t {
	case Bronze:
		return 7 * 24 * time.Hour
	case Silver:
		return 24 * time.Hour
	case Gold:
		return time.Hour
	default:
		panic("unknown conformance tier: " + string(t))
	}
}
