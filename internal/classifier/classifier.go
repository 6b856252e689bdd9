// Package classifier labels raw barcode payloads by their GS1 shape.
package classifier

import (
	"strings"
	"time"

	"example.com/backstage/services/aggregation/internal/gs1"
)

// ContentType is the classification of a raw code
type ContentType string

const (
	// ContentGS1SSCC is a logistics unit code (AI 00)
	ContentGS1SSCC ContentType = "GS1_SSCC"
	// ContentGS1DataMatrix is an FNC1-delimited GS1 element string
	ContentGS1DataMatrix ContentType = "GS1_DATAMATRIX"
	// ContentGS1Code128 is a ]C1-prefixed GS1-128 element string
	ContentGS1Code128 ContentType = "GS1_CODE128"
	// ContentGS1EAN13 is a 13-digit EAN GTIN
	ContentGS1EAN13 ContentType = "GS1_EAN13"
	// ContentGS1Error looked like GS1 but failed to parse
	ContentGS1Error ContentType = "GS1_ERROR"
	// ContentText is anything else
	ContentText ContentType = "TEXT"
)

// RawCode is one decoded barcode from a frame
type RawCode struct {
	Value     string        `json:"value" binding:"required"`
	Symbology gs1.Symbology `json:"symbology"`
}

// ClassifiedCode is a raw code with its content type and GS1 data
type ClassifiedCode struct {
	RawValue    string        `json:"raw_value"`
	Symbology   gs1.Symbology `json:"symbology"`
	ContentType ContentType   `json:"content_type"`
	GS1Data     []string      `json:"gs1_data"`
	FirstSeenAt time.Time     `json:"first_seen_at"`
	LastSeenAt  time.Time     `json:"last_seen_at"`
}

// Value returns the GS1 value stored under ai
func (c ClassifiedCode) Value(ai string) (string, bool) {
	return gs1.PairValue(c.GS1Data, ai)
}

// IsPackage reports whether the code identifies a logistics unit
func (c ClassifiedCode) IsPackage() bool {
	return c.ContentType == ContentGS1SSCC
}

// IsProduct reports whether the code is a serialized product marking. Only
// Data Matrix element strings mark products; GS1-128 symbols on a box are
// carton content labels.
func (c ClassifiedCode) IsProduct() bool {
	return c.ContentType == ContentGS1DataMatrix
}

// Classify labels raw by its shape. It is pure: timestamps are left zero and
// set by the scan buffer.
func Classify(raw string, sym gs1.Symbology) ClassifiedCode {
	code := ClassifiedCode{
		RawValue:  raw,
		Symbology: sym,
		GS1Data:   []string{},
	}

	hasFNC1 := strings.Contains(raw, gs1.FNC1)

	switch {
	case strings.HasPrefix(raw, gs1.Code128Prefix) || hasFNC1:
		elements, err := gs1.Parse(raw)
		if err != nil || len(elements) == 0 {
			code.ContentType = ContentGS1Error
			return code
		}
		code.GS1Data = elements.Pairs()
		switch {
		case len(elements) == 1 && elements[0].AI == gs1.AISSCC:
			code.ContentType = ContentGS1SSCC
		case hasFNC1:
			code.ContentType = ContentGS1DataMatrix
		default:
			code.ContentType = ContentGS1Code128
		}

	case gs1.IsDigits(raw, 13):
		elements, err := gs1.ParseSymbology(raw, gs1.EAN13)
		if err != nil {
			code.ContentType = ContentGS1Error
			return code
		}
		code.ContentType = ContentGS1EAN13
		code.GS1Data = elements.Pairs()

	case gs1.IsDigits(raw, 18):
		code.ContentType = ContentGS1SSCC
		code.GS1Data = []string{gs1.AISSCC + ":" + raw}

	case strings.HasPrefix(raw, gs1.AISSCC) && gs1.IsDigits(raw, 20):
		// some scanners emit the AI in front of a plain SSCC
		code.ContentType = ContentGS1SSCC
		code.GS1Data = []string{gs1.AISSCC + ":" + raw[2:]}

	default:
		code.ContentType = ContentText
	}

	return code
}

// ClassifyAll classifies every code in a frame
func ClassifyAll(frame []RawCode) []ClassifiedCode {
	out := make([]ClassifiedCode, 0, len(frame))
	for _, raw := range frame {
		if raw.Value == "" {
			continue
		}
		out = append(out, Classify(raw.Value, raw.Symbology))
	}
	return out
}
