package subscription

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
)

// Candle units the exchange accepts.
var (
	validMinuteUnits = map[int]bool{1: true, 3: true, 5: true, 10: true, 15: true, 30: true, 60: true, 240: true}
	validSecondUnits = map[int]bool{1: true}
)

// NormalizeDataType canonicalizes shorthand candle units: "5m" becomes
// "candle.5m", "1s" becomes "candle.1s". Non-candle types and already
// canonical candle types pass through after validation. Invalid units are
// rejected here, before anything enters the send pipeline.
func NormalizeDataType(raw string) (model.DataType, error) {
	switch model.DataType(raw) {
	case model.TypeTicker, model.TypeTrade, model.TypeOrderbook:
		return model.DataType(raw), nil
	}

	unit := raw
	if strings.HasPrefix(raw, "candle.") {
		unit = strings.TrimPrefix(raw, "candle.")
	}

	if err := validateCandleUnit(unit); err != nil {
		return "", err
	}
	return model.DataType("candle." + unit), nil
}

func validateCandleUnit(unit string) error {
	if len(unit) < 2 {
		return fmt.Errorf("invalid candle unit %q", unit)
	}

	suffix := unit[len(unit)-1]
	n, err := strconv.Atoi(unit[:len(unit)-1])
	if err != nil {
		return fmt.Errorf("invalid candle unit %q", unit)
	}

	switch suffix {
	case 'm':
		if !validMinuteUnits[n] {
			return fmt.Errorf("unsupported minute candle unit %q", unit)
		}
	case 's':
		if !validSecondUnits[n] {
			return fmt.Errorf("unsupported second candle unit %q", unit)
		}
	default:
		return fmt.Errorf("invalid candle unit %q", unit)
	}

	return nil
}
