// Package gs1 parses GS1 element strings carried by Data Matrix, GS1-128 and
// EAN-13 symbols into ordered Application Identifier / value pairs.
package gs1

import (
	"strconv"
	"strings"
)

// Parse normalizes payload by its shape and parses it. A leading FNC1 or ]C1
// prefix is stripped, and a bare 13-digit payload is read as an EAN-13 GTIN.
func Parse(payload string) (ElementString, error) {
	switch {
	case strings.HasPrefix(payload, Code128Prefix):
		return parseElements(payload[len(Code128Prefix):], len(Code128Prefix))
	case strings.HasPrefix(payload, FNC1):
		return parseElements(payload[len(FNC1):], len(FNC1))
	case IsDigits(payload, 13):
		return ElementString{{AI: AIGTIN, Value: payload}}, nil
	}
	return parseElements(payload, 0)
}

// ParseSymbology parses payload using the normalization rules of sym
func ParseSymbology(payload string, sym Symbology) (ElementString, error) {
	switch sym {
	case EAN13:
		if !IsDigits(payload, 13) {
			return nil, newParseError(ErrInvalidEAN13, "", 0, "expected exactly 13 digits")
		}
		return ElementString{{AI: AIGTIN, Value: payload}}, nil
	case Code128:
		if strings.HasPrefix(payload, Code128Prefix) {
			return parseElements(payload[len(Code128Prefix):], len(Code128Prefix))
		}
		return parseElements(payload, 0)
	case DataMatrix, QRCode:
		if strings.HasPrefix(payload, FNC1) {
			return parseElements(payload[len(FNC1):], len(FNC1))
		}
		return parseElements(payload, 0)
	}
	return Parse(payload)
}

// parseElements runs the AI loop. base is the offset of data inside the
// original payload and is only used for error reporting.
func parseElements(data string, base int) (ElementString, error) {
	result := ElementString{}
	pos := 0

	for pos < len(data) {
		def, ok := matchAI(data[pos:])
		if !ok {
			return nil, newParseError(ErrUnknownAI, "", base+pos, truncate(data[pos:], 8))
		}
		start := pos
		pos += len(def.Code)

		var value string
		if def.Variable() {
			rest := data[pos:]
			if idx := strings.Index(rest, FNC1); idx >= 0 {
				value = rest[:idx]
				pos += idx + len(FNC1)
			} else {
				value = rest
				pos = len(data)
			}
		} else {
			if len(data)-pos < def.Length {
				return nil, newParseError(ErrInsufficientData, def.Code, base+start,
					"expected "+strconv.Itoa(def.Length)+" characters, got "+strconv.Itoa(len(data)-pos))
			}
			value = data[pos : pos+def.Length]
			pos += def.Length
			// Some encoders terminate fixed fields with FNC1 as well
			if strings.HasPrefix(data[pos:], FNC1) {
				pos += len(FNC1)
			}
		}

		if result.Has(def.Code) {
			return nil, newParseError(ErrDuplicateAI, def.Code, base+start, "")
		}
		result = append(result, Element{AI: def.Code, Value: value})
	}

	return result, nil
}

// IsDigits reports whether s is exactly n ASCII digits. n < 0 accepts any
// non-empty length.
func IsDigits(s string, n int) bool {
	if s == "" || (n >= 0 && len(s) != n) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
