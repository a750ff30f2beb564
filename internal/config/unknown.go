package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxSuggestDistance bounds the edit distance for "did you mean?" hints.
const maxSuggestDistance = 3

// knownKeys lists the valid keys per section.
var knownKeys = map[string][]string{
	"retry":    {"factor", "initial_delay", "jitter", "max_delay", "max_retries", "operation_delay"},
	"transfer": {"bandwidth_limit", "chunk_size", "create_root", "max_items", "workers"},
	"filter":   {"exclude", "special_patterns"},
	"auth":     {"client_id", "client_secret", "token_file"},
	"state":    {"disabled", "journal"},
	"logging":  {"file", "format", "level"},
	"network":  {"connect_timeout", "request_timeout"},
}

var knownSections = func() []string {
	s := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		s = append(s, k)
	}

	slices.Sort(s)

	return s
}()

// checkUnknownKeys reports every undecoded key, suggesting the closest
// known name.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		if _, known := knownKeys[key[0]]; !known {
			if reported[key[0]] {
				continue
			}

			reported[key[0]] = true
		}

		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	section := key[0]

	keys, ok := knownKeys[section]
	if !ok || len(key) == 1 {
		if s := closestMatch(section, knownSections); s != "" {
			return fmt.Errorf("unknown config section %q, did you mean [%s]?", section, s)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	field := strings.Join(key[1:], ".")
	if s := closestMatch(field, keys); s != "" {
		return fmt.Errorf("unknown key %q in [%s], did you mean %q?", field, section, s)
	}

	return fmt.Errorf("unknown key %q in [%s]", field, section)
}

// closestMatch returns the candidate nearest to s by edit distance, or ""
// when none is within maxSuggestDistance. Ties go to the first candidate.
func closestMatch(s string, candidates []string) string {
	best, bestDist := "", maxSuggestDistance+1

	for _, c := range candidates {
		if d := levenshtein(s, c); d < bestDist {
			best, bestDist = c, d
		}
	}

	return best
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
