// Package korean normalizes the price and area unit conventions used
// throughout Korean real-estate listings: 만원/억원 price suffixes and
// 평/㎡ area units, recovered from the original tools' dummy-data
// formatting (price_tools.py, location_tools.py) since the distilled
// spec treats these as opaque strings.
package korean

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// won-per-unit multipliers.
const (
	Man  = 10_000
	Eok  = 100_000_000
	PyeongToSqm = 3.305785
)

var priceToken = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(억|천만|백만|만)?`)

// ParsePriceWon parses a Korean price expression such as "9억 5천만원" or
// "3억원" or "8500만원" into a won amount. It returns 0, false if no
// numeric token is found.
func ParsePriceWon(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	matches := priceToken.FindAllStringSubmatch(s, -1)
	var total float64
	found := false
	for _, m := range matches {
		numStr, unit := m[1], m[2]
		n, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			continue
		}
		found = true
		switch unit {
		case "억":
			total += n * Eok
		case "천만":
			total += n * 10_000_000
		case "백만":
			total += n * 1_000_000
		case "만":
			total += n * Man
		default:
			// bare number with no recognized suffix: treat as already won
			// only if it stands alone (avoids double counting "5" in "9억 5천만").
			if len(matches) == 1 {
				total += n
			}
		}
	}
	if !found {
		return 0, false
	}
	return int64(math.Round(total)), true
}

// FormatWon renders a won amount as "X억 Y천만원" style, matching the
// original's price_str formatting.
func FormatWon(won int64) string {
	if won <= 0 {
		return "0원"
	}
	eok := won / Eok
	remainder := won % Eok
	cheonman := remainder / 10_000_000
	switch {
	case eok > 0 && cheonman > 0:
		return strconv.FormatInt(eok, 10) + "억 " + strconv.FormatInt(cheonman, 10) + "천만원"
	case eok > 0:
		return strconv.FormatInt(eok, 10) + "억원"
	default:
		man := won / Man
		return strconv.FormatInt(man, 10) + "만원"
	}
}

// PyeongToSquareMeters converts 평 to ㎡.
func PyeongToSquareMeters(pyeong float64) float64 {
	return pyeong * PyeongToSqm
}

// SquareMetersToPyeong converts ㎡ to 평.
func SquareMetersToPyeong(sqm float64) float64 {
	return sqm / PyeongToSqm
}

var areaToken = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(평|㎡|제곱미터)`)

// ParseAreaSqm parses an area expression in 평 or ㎡ and normalizes it to
// square meters.
func ParseAreaSqm(s string) (float64, bool) {
	m := areaToken.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "평" {
		return PyeongToSquareMeters(n), true
	}
	return n, true
}
