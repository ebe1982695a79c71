package lookup

import (
	"slices"
	"strings"

	"github.com/leonardo-dashboard/leonardo/committee"
)

// Cache key namespaces. Each pattern matches every key in its namespace, for bulk invalidation.
const (
	RepresentativePrefix = "rep:"
	CommitteePrefix      = "committee:"
	LookupPrefix         = "lookup:"

	RepresentativePattern = RepresentativePrefix + "*"
	CommitteePattern      = CommitteePrefix + "*"
	LookupPattern         = LookupPrefix + "*"
)

// Cache key for a single ZIP code's representative, eg "rep:20001".
func RepresentativeKey(zip string) string {
	return RepresentativePrefix + zip
}

// Cache key for a member's committee list. Names which normalize to the same form share a key.
func CommitteeKey(member string) string {
	return CommitteePrefix + committee.NormalizeMember(member)
}

// Cache key for a batch lookup. The key does not depend on the order of the ZIP codes.
func LookupKey(zips []string) string {
	sorted := slices.Clone(zips)
	slices.Sort(sorted)
	return LookupPrefix + strings.Join(sorted, ",")
}
