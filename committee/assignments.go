package committee

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Committee data could not be parsed.
var ErrInvalidData = errors.New("invalid committee data")

// Committee name to member names, in the shape of the scraped committees.json file.
type Assignments map[string][]string

// Parses a JSON object of committee name to members. Each value may be an array of names, a single name, or null; blank names are dropped. Anything other than a JSON object is rejected with ErrInvalidData.
func ParseAssignments(r io.Reader) (Assignments, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidData)
	}

	out := make(Assignments, len(raw))
	for name, val := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		members, err := parseMembers(val)
		if err != nil {
			return nil, fmt.Errorf("%w: committee %q: %w", ErrInvalidData, name, err)
		}
		out[name] = append(out[name], members...)
	}
	return out, nil
}

func parseMembers(val json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(val, &list); err == nil {
		return cleanNames(list), nil
	}
	var single *string
	if err := json.Unmarshal(val, &single); err != nil {
		return nil, fmt.Errorf("members must be a list of names")
	}
	if single == nil {
		return nil, nil
	}
	return cleanNames([]string{*single}), nil
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Reads and parses a committee JSON file.
func LoadFile(path string) (Assignments, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := ParseAssignments(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return a, nil
}

// Sorted names of all committees the member sits on.
func (a Assignments) CommitteesFor(member string) []string {
	norm := NormalizeMember(member)
	out := []string{}
	for committee, members := range a {
		for _, m := range members {
			if NormalizeMember(m) == norm {
				out = append(out, committee)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Total number of (committee, member) pairs.
func (a Assignments) Len() int {
	n := 0
	for _, members := range a {
		n += len(members)
	}
	return n
}

// Canonical form of a member name for matching: lower case, with whitespace runs collapsed to a single space.
func NormalizeMember(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
