package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// priceBucketWidth is the tolerance for cross-source price matching: two
// listings whose asking prices fall in the same $250 bucket are considered
// the same price for dedup purposes.
const priceBucketWidth = 250

var (
	streetReplacements = map[string]string{
		"street":    "st",
		"avenue":    "ave",
		"drive":     "dr",
		"road":      "rd",
		"boulevard": "blvd",
		"lane":      "ln",
		"court":     "ct",
		"place":     "pl",
		"circle":    "cir",
		"terrace":   "ter",
		"highway":   "hwy",
		"parkway":   "pkwy",
		"square":    "sq",
		"north":     "n",
		"south":     "s",
		"east":      "e",
		"west":      "w",
		"apartment": "apt",
		"suite":     "ste",
		"floor":     "fl",
		"building":  "bldg",
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// CanonicalKey computes the cross-source dedup key for a listing:
// normalized address + bed count + price bucket, hashed. Two records from
// different sources with the same key describe the same unit.
func CanonicalKey(address string, beds, price int) string {
	input := fmt.Sprintf("%s|%d|%d",
		NormalizeAddress(address),
		beds,
		PriceBucket(price),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// PriceBucket maps a price onto its tolerance bucket.
func PriceBucket(price int) int {
	if price < 0 {
		price = 0
	}
	return price / priceBucketWidth
}

// NormalizeAddress lowercases, strips punctuation, and abbreviates common
// street-suffix words so that "123 West 4th Street" and "123 w 4th st"
// normalize identically.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = nonAlnumRegex.ReplaceAllString(addr, " ")
	fields := strings.Fields(addr)
	for i, f := range fields {
		if abbrev, ok := streetReplacements[f]; ok {
			fields[i] = abbrev
		}
	}
	addr = strings.Join(fields, " ")
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(addr, " "))
}
