// Package catalog provides the immutable topic catalog and stratified topic selection.
package catalog

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/ashureev/interviewd/internal/domain"
)

//go:embed topics.toml
var defaultCatalog []byte

// Catalog is the process-wide topic set. It is never mutated after construction.
type Catalog struct {
	scenes   []string
	eduTypes []string
	topics   []domain.Topic
	byName   map[string]int
}

type catalogFile struct {
	Scenes   []string       `toml:"scenes"`
	EduTypes []string       `toml:"edu_types"`
	Topics   []domain.Topic `toml:"topics"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a TOML catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a TOML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.Scenes, f.EduTypes, f.Topics)
}

// New builds a catalog and checks its structural invariants.
func New(scenes, eduTypes []string, topics []domain.Topic) (*Catalog, error) {
	c := &Catalog{
		scenes:   slices.Clone(scenes),
		eduTypes: slices.Clone(eduTypes),
		topics:   make([]domain.Topic, 0, len(topics)),
		byName:   make(map[string]int, len(topics)),
	}
	if len(c.scenes) == 0 || len(c.eduTypes) == 0 {
		return nil, fmt.Errorf("%w: catalog needs at least one scene and one education type", domain.ErrInvalidInput)
	}

	for _, t := range topics {
		t = t.Clone()
		t.CoreQuestion = strings.TrimSpace(t.CoreQuestion)
		switch {
		case t.Name == "":
			return nil, fmt.Errorf("%w: topic without name", domain.ErrInvalidInput)
		case t.CoreQuestion == "":
			return nil, fmt.Errorf("%w: topic %q has no core question", domain.ErrInvalidInput, t.Name)
		case !slices.Contains(c.scenes, t.Scene):
			return nil, fmt.Errorf("%w: topic %q has unknown scene %q", domain.ErrInvalidInput, t.Name, t.Scene)
		case !slices.Contains(c.eduTypes, t.EduType):
			return nil, fmt.Errorf("%w: topic %q has unknown education type %q", domain.ErrInvalidInput, t.Name, t.EduType)
		}
		if _, dup := c.byName[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate topic %q", domain.ErrInvalidInput, t.Name)
		}
		c.byName[t.Name] = len(c.topics)
		c.topics = append(c.topics, t)
	}
	return c, nil
}

// RequirePresets fails if any topic has an empty follow-up pool.
// Without a gateway the preset pool is the only source of mandatory follow-ups.
func (c *Catalog) RequirePresets() error {
	for _, t := range c.topics {
		if len(t.Followups) == 0 {
			return fmt.Errorf("%w: topic %q has no preset follow-ups and no gateway is configured", domain.ErrInvalidInput, t.Name)
		}
	}
	return nil
}

// Len returns the number of topics.
func (c *Catalog) Len() int { return len(c.topics) }

// Scenes returns the scene enumeration.
func (c *Catalog) Scenes() []string { return slices.Clone(c.scenes) }

// EduTypes returns the education dimension enumeration.
func (c *Catalog) EduTypes() []string { return slices.Clone(c.eduTypes) }

// Topics returns a copy of every topic in catalog order.
func (c *Catalog) Topics() []domain.Topic {
	out := make([]domain.Topic, len(c.topics))
	for i, t := range c.topics {
		out[i] = t.Clone()
	}
	return out
}

// ByNames resolves topic names in the given order.
func (c *Catalog) ByNames(names []string) ([]domain.Topic, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no topics requested", domain.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(names))
	out := make([]domain.Topic, 0, len(names))
	for _, name := range names {
		idx, ok := c.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown topic %q", domain.ErrInvalidInput, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: topic %q requested twice", domain.ErrInvalidInput, name)
		}
		seen[name] = true
		out = append(out, c.topics[idx].Clone())
	}
	return out, nil
}

// Select draws total topics. Each pick first takes an unused scene×education
// stratum that adds the most not-yet-covered scenes and education types; once
// every stratum has contributed, the remainder is drawn uniformly without
// replacement. The result depends only on the catalog, total and rng.
func (c *Catalog) Select(total int, rng *rand.Rand) ([]domain.Topic, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: total questions must be positive", domain.ErrInvalidInput)
	}
	if total > len(c.topics) {
		return nil, fmt.Errorf("%w: requested %d, catalog has %d", domain.ErrInsufficientTopics, total, len(c.topics))
	}

	type stratum struct {
		scene, edu string
		members    []int
	}
	var strata []stratum
	for _, scene := range c.scenes {
		for _, edu := range c.eduTypes {
			s := stratum{scene: scene, edu: edu}
			for i, t := range c.topics {
				if t.Scene == scene && t.EduType == edu {
					s.members = append(s.members, i)
				}
			}
			if len(s.members) > 0 {
				strata = append(strata, s)
			}
		}
	}

	used := make([]bool, len(c.topics))
	stratumUsed := make([]bool, len(strata))
	coveredScene := make(map[string]bool)
	coveredEdu := make(map[string]bool)
	picked := make([]int, 0, total)

	for len(picked) < total {
		best := -1
		var ties []int
		for i, s := range strata {
			if stratumUsed[i] {
				continue
			}
			score := 0
			if !coveredScene[s.scene] {
				score++
			}
			if !coveredEdu[s.edu] {
				score++
			}
			switch {
			case score > best:
				best = score
				ties = append(ties[:0], i)
			case score == best:
				ties = append(ties, i)
			}
		}
		if len(ties) == 0 {
			break
		}
		si := ties[rng.IntN(len(ties))]
		s := strata[si]
		stratumUsed[si] = true
		ti := s.members[rng.IntN(len(s.members))]
		used[ti] = true
		coveredScene[s.scene] = true
		coveredEdu[s.edu] = true
		picked = append(picked, ti)
	}

	if remaining := total - len(picked); remaining > 0 {
		var pool []int
		for i := range c.topics {
			if !used[i] {
				pool = append(pool, i)
			}
		}
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		picked = append(picked, pool[:remaining]...)
	}

	out := make([]domain.Topic, len(picked))
	for i, idx := range picked {
		out[i] = c.topics[idx].Clone()
	}
	return out, nil
}
