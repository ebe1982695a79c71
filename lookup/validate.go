package lookup

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Maximum number of ZIP codes in a single batch lookup.
const MaxBatchSize = 10

var (
	ErrInvalidZIP      = errors.New("invalid ZIP code")
	ErrTooManyZIPs     = fmt.Errorf("too many ZIP codes (max %d)", MaxBatchSize)
	ErrNoZIPs          = errors.New("no ZIP codes provided")
	ErrInvalidDistrict = errors.New("invalid district")
)

var (
	zipRegex      = regexp.MustCompile(`^[0-9]{5}$`)
	districtRegex = regexp.MustCompile(`^([A-Z]{2})-([0-9]{1,2})$`)
	digitsRegex   = regexp.MustCompile(`[0-9]+`)
)

var stateCodes = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true, "CT": true, "DE": true, "FL": true, "GA": true,
	"HI": true, "ID": true, "IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true, "ME": true, "MD": true,
	"MA": true, "MI": true, "MN": true, "MS": true, "MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true, "OR": true, "PA": true, "RI": true, "SC": true,
	"SD": true, "TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true, "WI": true, "WY": true,
	"DC": true,
}

var partyNames = map[string]string{
	"d":                 "Democratic",
	"dem":               "Democratic",
	"democrat":          "Democratic",
	"democratic":        "Democratic",
	"democratic party":  "Democratic",
	"r":                 "Republican",
	"rep":               "Republican",
	"republican":        "Republican",
	"republican party":  "Republican",
	"i":                 "Independent",
	"ind":               "Independent",
	"independent":       "Independent",
	"independent party": "Independent",
}

// Five ASCII digits, nothing else.
func ValidZIP(zip string) bool {
	return zipRegex.MatchString(zip)
}

// Two-letter code for a US state, or DC. Case-insensitive.
func ValidState(state string) bool {
	return stateCodes[strings.ToUpper(state)]
}

// Formats a district number as two zero-padded digits. Accepts anything containing a number, eg "1", "01", or "District 12".
func FormatDistrictNumber(district string) (string, error) {
	digits := digitsRegex.FindString(district)
	if digits == "" {
		return "", fmt.Errorf("%w: no district number in %q", ErrInvalidDistrict, district)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDistrict, district)
	}
	return fmt.Sprintf("%02d", n), nil
}

// Formats a district as STATE-NN, eg "CA-12".
func FormatDistrict(state, number string) (string, error) {
	if !ValidState(state) {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidDistrict, state)
	}
	num, err := FormatDistrictNumber(number)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(state) + "-" + num, nil
}

// Parses a STATE-N or STATE-NN district (case-insensitive), returning the state code and the zero-padded number.
func ParseDistrict(district string) (string, string, error) {
	m := districtRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(district)))
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDistrict, district)
	}
	if !ValidState(m[1]) {
		return "", "", fmt.Errorf("%w: unknown state %q", ErrInvalidDistrict, m[1])
	}
	num, err := FormatDistrictNumber(m[2])
	if err != nil {
		return "", "", err
	}
	return m[1], num, nil
}

// Standardizes party names, eg "D" or "Democratic Party" to "Democratic". Unknown parties are title-cased.
func FormatParty(party string) string {
	p := strings.ToLower(strings.Join(strings.Fields(party), " "))
	if name, ok := partyNames[p]; ok {
		return name
	}
	words := strings.Fields(p)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Trims and validates a batch of ZIP codes, dropping duplicates (the first occurrence keeps its position).
func NormalizeZIPs(zips []string) ([]string, error) {
	out := make([]string, 0, len(zips))
	seen := make(map[string]bool, len(zips))
	for _, z := range zips {
		z = strings.TrimSpace(z)
		if !ValidZIP(z) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidZIP, z)
		}
		if seen[z] {
			continue
		}
		seen[z] = true
		out = append(out, z)
	}
	if len(out) == 0 {
		return nil, ErrNoZIPs
	}
	if len(out) > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyZIPs, len(out))
	}
	return out, nil
}
