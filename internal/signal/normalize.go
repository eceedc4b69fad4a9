package signal

import (
	"strconv"
	"strings"
	"time"

	"doge-flow-trader/internal/logging"
)

// Raw is the heterogeneous wire record produced by the tailer: either the
// current schema-v2 object or the legacy {type, ts, symbol, data} shape
// (spec.md §6), decoded into a generic map.
type Raw map[string]interface{}

// defaultTTL per kind (spec.md §4.2).
const (
	ttlIcebergConfirmed = 60
	ttlIcebergDetected  = 45
	ttlState            = 180
	ttlDefault          = 120
)

var tradingRelevantTypes = map[string]bool{
	"iceberg_activity":  true,
	"iceberg_detected":  true,
	"iceberg_confirmed": true,
	"k_god_status":      true,
	"state":             true,
	"resonance":         true,
}

// Normalize maps a raw record to a canonical Signal. A false second return
// value means the record was dropped (never an error — dropping is an
// expected outcome, counted by the caller, not propagated).
func Normalize(raw Raw, configuredSymbol string) (Signal, bool) {
	symbol, _ := stringField(raw, "symbol")
	if symbol == "" || !strings.EqualFold(symbol, configuredSymbol) {
		return Signal{}, false
	}

	rawType, _ := stringField(raw, "signal_type")
	if rawType == "" {
		rawType, _ = stringField(raw, "type") // legacy field name
	}
	normalizedType := strings.ToLower(rawType)
	if !isTradingRelevant(normalizedType) {
		return Signal{}, false
	}

	ts, ok := parseTimestamp(raw)
	if !ok {
		return Signal{}, false
	}

	confidence := floatFieldOrDefault(raw, "confidence", 50)

	data, _ := raw["data"].(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
	}

	sig := Signal{
		RawType:      rawType,
		Symbol:       symbol,
		Confidence:   confidence,
		TimestampMs:  ts,
		ConfirmRatio: floatFieldOrDefault(data, "confirm_ratio", -1),
		Price:        floatFieldOrDefault(raw, "price", floatFieldOrDefault(data, "price", 0)),
		Volume:       floatFieldOrDefault(data, "volume", 0),
	}

	switch {
	case normalizedType == "state":
		sig.Kind = KindState
		sig.MarketState = MarketState(strings.ToLower(stringFieldOrDefault(data, "market_state", "neutral")))
		sig.Direction = directionForState(sig.MarketState)
		sig.TTLSeconds = ttlState

	case strings.HasPrefix(normalizedType, "iceberg"):
		level := strings.ToUpper(stringFieldOrDefault(data, "level", "ACTIVITY"))
		if level == "CONFIRMED" {
			sig.Kind = KindIcebergConfirmed
			sig.IcebergLevel = IcebergConfirmed
			sig.TTLSeconds = ttlIcebergConfirmed
		} else {
			sig.Kind = KindIcebergDetected
			sig.IcebergLevel = IcebergActivity
			sig.TTLSeconds = ttlIcebergDetected
		}
		sig.Direction = directionFromRawField(raw, data)

	case normalizedType == "resonance":
		sig.Kind = KindResonance
		sig.TTLSeconds = ttlDefault
		sig.Direction = directionFromRawField(raw, data)

	case normalizedType == "k_god_status":
		// K-God annotations ride along on other kinds in practice; when seen
		// standalone treat as a STATE-equivalent informational record.
		sig.Kind = KindState
		sig.TTLSeconds = ttlState
		sig.Direction = DirectionNeutral

	default:
		sig.Kind = KindState
		sig.TTLSeconds = ttlDefault
		sig.Direction = DirectionNeutral
	}

	if kgod, ok := stringField(data, "k_god_status"); ok && kgod != "" {
		sig.KGodStatus = KGodStatus(strings.ToLower(kgod))
	} else if kgod, ok := stringField(raw, "k_god_status"); ok && kgod != "" {
		sig.KGodStatus = KGodStatus(strings.ToLower(kgod))
	}

	logLegacyTextualDirection(data)

	return sig, true
}

func isTradingRelevant(t string) bool {
	if tradingRelevantTypes[t] {
		return true
	}
	return strings.HasPrefix(t, "iceberg_") || strings.HasPrefix(t, "k_god_")
}

// directionFromRawField maps the wire "direction" field (bullish/bearish/
// neutral) to the canonical Direction (spec.md §4.2).
func directionFromRawField(raw, data map[string]interface{}) Direction {
	d, ok := stringField(raw, "direction")
	if !ok || d == "" {
		d, _ = stringField(data, "direction")
	}
	switch strings.ToLower(d) {
	case "bullish":
		return DirectionLong
	case "bearish":
		return DirectionShort
	default:
		return DirectionNeutral
	}
}

// directionForState derives direction from the market_state enum per
// spec.md Table 4.2a.
func directionForState(state MarketState) Direction {
	switch state {
	case StateTrendUp, StateAccumulating, StateWashAccumulate:
		return DirectionLong
	case StateTrendDown, StateDistributing, StateTrapDistribution:
		return DirectionShort
	default:
		return DirectionNeutral
	}
}

// ExtractTimestampMs exposes parseTimestamp for callers outside this
// package (the tailer's replay-window age check) that need a record's
// timestamp without running it through full normalization.
func ExtractTimestampMs(raw Raw) (int64, bool) {
	return parseTimestamp(raw)
}

// parseTimestamp accepts either a Unix-second integer (legacy) or an
// ISO-8601 string (current) and produces a monotonic-ms value.
func parseTimestamp(raw map[string]interface{}) (int64, bool) {
	if v, ok := raw["timestamp"]; ok {
		if ms, ok := parseAnyTimestamp(v); ok {
			return ms, true
		}
	}
	if v, ok := raw["ts"]; ok { // legacy field name, Unix seconds
		if ms, ok := parseAnyTimestamp(v); ok {
			return ms, true
		}
	}
	return 0, false
}

func parseAnyTimestamp(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return secondsToMs(t), true
	case int64:
		return secondsToMs(float64(t)), true
	case string:
		if secs, err := strconv.ParseFloat(t, 64); err == nil {
			return secondsToMs(secs), true
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UnixMilli(), true
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UnixMilli(), true
		}
	}
	return 0, false
}

// secondsToMs treats values already in millisecond range (> 10^12) as ms,
// and smaller values as Unix seconds — both appear in the wild across the
// legacy and current schema.
func secondsToMs(v float64) int64 {
	if v > 1e12 {
		return int64(v)
	}
	return int64(v * 1000)
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

func stringFieldOrDefault(m map[string]interface{}, key, def string) string {
	if s, ok := stringField(m, key); ok && s != "" {
		return s
	}
	return def
}

func floatFieldOrDefault(m map[string]interface{}, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case float64:
			return t
		case int:
			return float64(t)
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		}
	}
	return def
}

// legacyChineseTokens holds the textual direction markers the legacy parser
// in the original producer tolerated. Open Question #3 (spec.md §9):
// unclear whether the active producer still emits them — they are logged,
// not parsed into a direction.
var legacyChineseTokens = map[string]bool{"买": true, "卖": true}

func logLegacyTextualDirection(data map[string]interface{}) {
	for _, key := range []string{"direction", "side", "action"} {
		if s, ok := stringField(data, key); ok {
			if legacyChineseTokens[s] {
				logging.Warn("legacy textual direction token seen, not mapped", "token", s, "field", key)
			}
		}
	}
}
