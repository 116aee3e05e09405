package aprs

import "strings"

// DefaultSymbol is the primary-table sailboat.
const DefaultSymbol = "/Y"

// BeaconPayload builds an uncompressed position report without timestamp
// (messaging capable): =<lat><table><lon><code> followed by each non-empty
// token, space separated.
func BeaconPayload(lat, lon float64, symbol string, tokens ...string) string {
	if len(symbol) != 2 {
		symbol = DefaultSymbol
	}
	var sb strings.Builder
	sb.WriteByte('=')
	sb.WriteString(FormatLatitude(lat))
	sb.WriteByte(symbol[0])
	sb.WriteString(FormatLongitude(lon))
	sb.WriteByte(symbol[1])
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		sb.WriteByte(' ')
		sb.WriteString(tok)
	}
	return sb.String()
}
