package matching

import (
	"fmt"

	"github.com/poiesic/embedvector/core"
)

// Strategy selects how a match query is executed.
type Strategy string

const (
	StrategyAuto            Strategy = "auto"
	StrategyOptimized       Strategy = "optimized"
	StrategyCrossConnection Strategy = "cross_connection"
)

// ParseStrategy converts a configuration value into a Strategy.
// The empty string selects StrategyAuto.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyOptimized, StrategyCrossConnection:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: unknown search strategy %q", core.ErrConfiguration, s)
}
