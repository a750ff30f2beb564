package replicate

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
)

// Classifier decides whether an item is a folder, a regular file, or a
// special OS artifact file, and whether it is excluded by name.
//
// Patterns match the item name only, after NFC normalization, so names
// uploaded from macOS (NFD) match patterns typed in NFC.
type Classifier struct {
	special []string
	exclude []string
}

// NewClassifier validates and normalizes the patterns.
func NewClassifier(special, exclude []string) (*Classifier, error) {
	c := &Classifier{}

	for _, p := range special {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("replicate: invalid special pattern %q", p)
		}

		c.special = append(c.special, norm.NFC.String(p))
	}

	for _, p := range exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("replicate: invalid exclude pattern %q", p)
		}

		c.exclude = append(c.exclude, norm.NFC.String(p))
	}

	return c, nil
}

// Classify returns the item's Kind. Folders are identified by MIME type
// alone; a folder whose name matches a special pattern is still a folder.
func (c *Classifier) Classify(item *gdrive.Item) Kind {
	if item.IsFolder() {
		return KindFolder
	}

	if matchAny(c.special, item.Name) {
		return KindSpecial
	}

	return KindFile
}

// Excluded reports whether the item's name matches an exclude pattern.
func (c *Classifier) Excluded(item *gdrive.Item) bool {
	return matchAny(c.exclude, item.Name)
}

func matchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return false
	}

	name = norm.NFC.String(name)

	for _, p := range patterns {
		// Patterns were validated in NewClassifier, so Match cannot fail.
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}

	return false
}
