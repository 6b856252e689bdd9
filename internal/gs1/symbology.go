package gs1

import (
	"fmt"
	"strings"
)

// Symbology identifies the barcode symbology a payload was decoded from
type Symbology string

const (
	// DataMatrix is a 2D GS1 Data Matrix symbol
	DataMatrix Symbology = "DATA_MATRIX"
	// Code128 is a 1D GS1-128 symbol
	Code128 Symbology = "CODE_128"
	// QRCode is a 2D QR symbol
	QRCode Symbology = "QR_CODE"
	// EAN13 is a 1D EAN-13 symbol
	EAN13 Symbology = "EAN_13"
)

const (
	// FNC1 is the GS1 function character used as the field separator
	FNC1 = "\u001D"
	// Code128Prefix is the symbology identifier GS1-128 scanners prepend
	Code128Prefix = "]C1"
)

// ParseSymbologyName converts a loose symbology name into a Symbology
func ParseSymbologyName(name string) (Symbology, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
	switch normalized {
	case "datamatrix", "dm":
		return DataMatrix, nil
	case "code128", "gs1128":
		return Code128, nil
	case "qrcode", "qr":
		return QRCode, nil
	case "ean13", "ean":
		return EAN13, nil
	default:
		return "", fmt.Errorf("unknown symbology: %q", name)
	}
}

// String returns the symbology name
func (s Symbology) String() string {
	return string(s)
}
