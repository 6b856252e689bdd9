package gs1

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    ElementString
	}{
		{
			name:    "data matrix marking code",
			payload: "\u001d0104600605032541215B,LN)\u001d93gJXT",
			want: ElementString{
				{AI: "01", Value: "04600605032541"},
				{AI: "21", Value: "5B,LN)"},
				{AI: "93", Value: "gJXT"},
			},
		},
		{
			name:    "data matrix with quote in serial",
			payload: "\u001d0104610117656289215,IN\"j\u001d934P4Z",
			want: ElementString{
				{AI: "01", Value: "04610117656289"},
				{AI: "21", Value: "5,IN\"j"},
				{AI: "93", Value: "4P4Z"},
			},
		},
		{
			name:    "gs1-128 sscc",
			payload: "]C100046070517900000056",
			want:    ElementString{{AI: "00", Value: "046070517900000056"}},
		},
		{
			name:    "bare ean-13",
			payload: "4010276020752",
			want:    ElementString{{AI: "01", Value: "4010276020752"}},
		},
		{
			name:    "missing fnc1 prefix is tolerated",
			payload: "0104600605032541215B,LN)",
			want: ElementString{
				{AI: "01", Value: "04600605032541"},
				{AI: "21", Value: "5B,LN)"},
			},
		},
		{
			name:    "fixed fields back to back",
			payload: "]C10104600605032541172512311012AB",
			want: ElementString{
				{AI: "01", Value: "04600605032541"},
				{AI: "17", Value: "251231"},
				{AI: "10", Value: "12AB"},
			},
		},
		{
			name:    "separator after fixed field",
			payload: "\u001d0104600605032541\u001d17251231\u001d215B,LN)",
			want: ElementString{
				{AI: "01", Value: "04600605032541"},
				{AI: "17", Value: "251231"},
				{AI: "21", Value: "5B,LN)"},
			},
		},
		{
			name:    "three digit AI",
			payload: "\u001d4141234567890123456",
			want:    ElementString{{AI: "414", Value: "1234567890123456"}},
		},
		{
			name:    "empty variable field",
			payload: "\u001d21\u001d93ab",
			want: ElementString{
				{AI: "21", Value: ""},
				{AI: "93", Value: "ab"},
			},
		},
		{
			name:    "empty payload",
			payload: "",
			want:    ElementString{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.payload)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.payload, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		kind    error
		ai      string
	}{
		{name: "unknown AI", payload: "99ABC123", kind: ErrUnknownAI},
		{name: "short digits", payload: "12345", kind: ErrUnknownAI},
		{name: "unknown AI after valid field", payload: "\u001d010460060503254199x", kind: ErrUnknownAI},
		{name: "truncated GTIN", payload: "\u001d01046006", kind: ErrInsufficientData, ai: "01"},
		{name: "truncated SSCC", payload: "]C1000460705179", kind: ErrInsufficientData, ai: "00"},
		{name: "duplicate GTIN", payload: "\u001d01046006050325410104600605032541", kind: ErrDuplicateAI, ai: "01"},
		{name: "duplicate serial", payload: "\u001d21abc\u001d21def", kind: ErrDuplicateAI, ai: "21"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.payload)
			require.Error(t, err)
			require.Nil(t, got, "a failed parse must not return a partial result")
			require.True(t, errors.Is(err, tt.kind), "got %v", err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			require.Equal(t, tt.ai, perr.AI)
		})
	}
}

func TestParseSymbology(t *testing.T) {
	// EAN-13 must be exactly 13 digits
	_, err := ParseSymbology("12345", EAN13)
	require.ErrorIs(t, err, ErrInvalidEAN13)

	_, err = ParseSymbology("401027602075A", EAN13)
	require.ErrorIs(t, err, ErrInvalidEAN13)

	es, err := ParseSymbology("4010276020752", EAN13)
	require.NoError(t, err)
	require.Equal(t, ElementString{{AI: "01", Value: "4010276020752"}}, es)

	// Code128 strips the symbology identifier
	es, err = ParseSymbology("]C100046070517900000056", Code128)
	require.NoError(t, err)
	require.Equal(t, "046070517900000056", es.Map()["00"])

	// Data Matrix strips FNC1 and tolerates its absence
	es, err = ParseSymbology("\u001d0104600605032541", DataMatrix)
	require.NoError(t, err)
	require.Equal(t, []string{"01:04600605032541"}, es.Pairs())

	es, err = ParseSymbology("0104600605032541", DataMatrix)
	require.NoError(t, err)
	require.Equal(t, []string{"01:04600605032541"}, es.Pairs())

	// A 13 digit Data Matrix payload goes through the AI loop, not the EAN path
	_, err = ParseSymbology("0104600605032", DataMatrix)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestAITableIsLongestFirst(t *testing.T) {
	for i := 1; i < len(aiTable); i++ {
		require.GreaterOrEqual(t, len(aiTable[i-1].Code), len(aiTable[i].Code),
			"AI %s listed before longer AI %s", aiTable[i-1].Code, aiTable[i].Code)
	}
}

func TestParseDataMatrixProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!\"%&'()*+,-./:;<=>?_"

	randomString := func(min, max int) string {
		n := min + rng.Intn(max-min+1)
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteByte(alphabet[rng.Intn(len(alphabet))])
		}
		return b.String()
	}
	randomDigits := func(n int) string {
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteByte(byte('0' + rng.Intn(10)))
		}
		return b.String()
	}

	for i := 0; i < 500; i++ {
		gtin := randomDigits(14)
		serial := randomString(1, 20)
		tail := randomString(1, 44)
		payload := FNC1 + "01" + gtin + "21" + serial + FNC1 + "93" + tail

		got, err := Parse(payload)
		require.NoError(t, err, "payload %q", payload)
		require.Equal(t, map[string]string{"01": gtin, "21": serial, "93": tail}, got.Map())
		require.Len(t, got, 3)
	}
}

func TestRoundTrip(t *testing.T) {
	payloads := []string{
		"\u001d0104600605032541215B,LN)\u001d93gJXT",
		"]C100046070517900000056",
		"]C10104600605032541172512311012AB",
		"\u001d01046006050325412112:34\u001d91EE06\u001d92abcdef==",
	}

	for _, payload := range payloads {
		original, err := Parse(payload)
		require.NoError(t, err)

		// "AI:value" pairs rebuild the same element string
		rebuilt, err := FromPairs(original.Pairs())
		require.NoError(t, err)
		if diff := cmp.Diff(original, rebuilt); diff != "" {
			t.Errorf("FromPairs mismatch for %q (-want +got):\n%s", payload, diff)
		}

		// Encoding and re-parsing is idempotent
		reparsed, err := Parse(rebuilt.Encode())
		require.NoError(t, err)
		if diff := cmp.Diff(original, reparsed); diff != "" {
			t.Errorf("Encode round trip mismatch for %q (-want +got):\n%s", payload, diff)
		}
	}
}

func TestFromPairsRejectsDuplicates(t *testing.T) {
	_, err := FromPairs([]string{"01:04600605032541", "01:04600605032542"})
	require.ErrorIs(t, err, ErrDuplicateAI)

	_, err = FromPairs([]string{"no separator"})
	require.ErrorIs(t, err, ErrMalformedPair)
}

func TestPairValue(t *testing.T) {
	pairs := []string{"01:04600605032541", "21:ab:cd"}

	v, ok := PairValue(pairs, "21")
	require.True(t, ok)
	require.Equal(t, "ab:cd", v)

	_, ok = PairValue(pairs, "00")
	require.False(t, ok)
}
