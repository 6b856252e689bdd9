package gs1

// AIDefinition describes one Application Identifier. Length 0 means the field
// is variable-length and terminated by FNC1 or end of data.
type AIDefinition struct {
	Code   string
	Length int
	Name   string
}

// Variable reports whether the field is FNC1-terminated
func (d AIDefinition) Variable() bool {
	return d.Length == 0
}

// Well-known AIs
const (
	AISSCC   = "00"
	AIGTIN   = "01"
	AISerial = "21"
)

// aiTable is ordered longest code first so a three-digit AI always wins over a
// two-digit one sharing its prefix.
var aiTable = []AIDefinition{
	{Code: "414", Length: 16, Name: "GLN"},
	{Code: "00", Length: 18, Name: "SSCC"},
	{Code: "01", Length: 14, Name: "GTIN"},
	{Code: "02", Length: 14, Name: "CONTENT"},
	{Code: "10", Length: 0, Name: "BATCH/LOT"},
	{Code: "11", Length: 6, Name: "PROD DATE"},
	{Code: "13", Length: 6, Name: "PACK DATE"},
	{Code: "15", Length: 6, Name: "BEST BEFORE"},
	{Code: "17", Length: 6, Name: "USE BY"},
	{Code: "21", Length: 0, Name: "SERIAL"},
	{Code: "30", Length: 0, Name: "VAR COUNT"},
	{Code: "37", Length: 0, Name: "COUNT"},
	{Code: "91", Length: 0, Name: "CHECK KEY"},
	{Code: "92", Length: 0, Name: "CHECK VALUE"},
	{Code: "93", Length: 0, Name: "CHECK CODE"},
}

// Lookup returns the definition for an AI code
func Lookup(code string) (AIDefinition, bool) {
	for _, def := range aiTable {
		if def.Code == code {
			return def, true
		}
	}
	return AIDefinition{}, false
}

// matchAI returns the definition whose code prefixes data, trying longer
// codes first.
func matchAI(data string) (AIDefinition, bool) {
	for _, def := range aiTable {
		if len(data) >= len(def.Code) && data[:len(def.Code)] == def.Code {
			return def, true
		}
	}
	return AIDefinition{}, false
}
