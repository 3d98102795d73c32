package catalog

import "regexp"

// Tag identifies the reference crypto symbol a market question concerns.
// The set is closed: a tag doubles as the Binance stream symbol base, so
// adding one means wiring a new reference feed.
type Tag string

const (
	TagBTC Tag = "btc"
	TagETH Tag = "eth"
	TagSOL Tag = "sol"
)

// tagPatterns match on word boundaries, not bare substrings: "resolution"
// must not read as solana.
var tagPatterns = []struct {
	tag Tag
	re  *regexp.Regexp
}{
	{TagBTC, regexp.MustCompile(`(?i)\b(btc|bitcoin)\b`)},
	{TagETH, regexp.MustCompile(`(?i)\b(eth|ethereum)\b`)},
	{TagSOL, regexp.MustCompile(`(?i)\b(sol|solana)\b`)},
}

// Classify returns the reference-symbol tags mentioned by a market question,
// in declaration order. Questions about nothing in the tag set return nil.
func Classify(question string) []Tag {
	var tags []Tag
	for _, p := range tagPatterns {
		if p.re.MatchString(question) {
			tags = append(tags, p.tag)
		}
	}
	return tags
}
