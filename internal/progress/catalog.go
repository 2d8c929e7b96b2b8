package progress

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed catalog.json
var defaultCatalog []byte

// Lesson is one completable unit of a module.
type Lesson struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	XPReward int    `json:"xp_reward"`
}

// Module groups lessons; completing all of them awards XPReward.
type Module struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Difficulty string   `json:"difficulty"`
	XPReward   int      `json:"xp_reward"`
	Lessons    []Lesson `json:"lessons"`
}

// Catalog is the set of modules a user can progress through.
type Catalog struct {
	Modules []Module `json:"modules"`

	lessons map[string]lessonRef
}

type lessonRef struct {
	module int
	lesson int
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes a catalog and indexes its lessons. Lesson ids must
// be unique across modules.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	c.lessons = make(map[string]lessonRef)
	for mi, m := range c.Modules {
		if m.ID == "" {
			return nil, fmt.Errorf("module %d has no id", mi)
		}
		for li, l := range m.Lessons {
			if _, dup := c.lessons[l.ID]; dup {
				return nil, fmt.Errorf("duplicate lesson id %q", l.ID)
			}
			c.lessons[l.ID] = lessonRef{module: mi, lesson: li}
		}
	}
	return &c, nil
}

func (c *Catalog) lookup(lessonID string) (*Module, *Lesson, bool) {
	ref, ok := c.lessons[lessonID]
	if !ok {
		return nil, nil, false
	}
	m := &c.Modules[ref.module]
	return m, &m.Lessons[ref.lesson], true
}

func (c *Catalog) lessonCount() int {
	return len(c.lessons)
}
