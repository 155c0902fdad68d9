// Package traits holds the pre-authored character templates dealt to players
// and the rules for merging them with persisted overrides.
package traits

import (
	"fmt"

	"github.com/mcoot/bunker/internal/model"
)

// Pool is a fixed, ordered list of templates. The player at join position i
// is dealt At(i).
type Pool struct {
	templates []model.Traits
}

// NewPool copies the given templates into a pool
func NewPool(templates []model.Traits) (*Pool, error) {
	if len(templates) == 0 {
		return nil, model.ErrEmptyTemplatePool
	}
	t := make([]model.Traits, len(templates))
	copy(t, templates)
	return &Pool{templates: t}, nil
}

// Len returns the number of distinct templates
func (p *Pool) Len() int {
	return len(p.templates)
}

// At returns the template for a zero-based join position. Positions past the
// end of the pool wrap around, so larger lobbies reuse templates.
func (p *Pool) At(position int) model.Traits {
	if position < 0 {
		panic(fmt.Sprintf("traits: negative position %d", position))
	}
	return p.templates[position%len(p.templates)]
}

// Apply overlays non-empty override fields onto the template
func Apply(template, overrides model.Traits) model.Traits {
	if overrides.IsZero() {
		return template
	}
	out := template
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&out.Profession, overrides.Profession)
	pick(&out.ProfessionExperience, overrides.ProfessionExperience)
	pick(&out.Gender, overrides.Gender)
	pick(&out.Health, overrides.Health)
	pick(&out.Education, overrides.Education)
	pick(&out.Hobby, overrides.Hobby)
	pick(&out.HobbyExperience, overrides.HobbyExperience)
	pick(&out.Phobia, overrides.Phobia)
	pick(&out.BagItem, overrides.BagItem)
	pick(&out.SpecialAbility, overrides.SpecialAbility)
	pick(&out.AdditionalTraits, overrides.AdditionalTraits)
	if overrides.Age != 0 {
		out.Age = overrides.Age
	}
	return out
}

// Characterize turns participation rows (already in join order) into the
// display list. Row i gets template At(i) with its own overrides on top.
func Characterize(rows []*model.Participation, pool *Pool) []model.Characteristic {
	out := make([]model.Characteristic, 0, len(rows))
	for i, row := range rows {
		name := row.DisplayName
		if name == "" {
			name = string(row.UserID)
		}
		out = append(out, model.Characteristic{
			ID:     i + 1,
			Name:   name,
			UserID: row.UserID,
			Online: true,
			Traits: Apply(pool.At(i), row.Traits),
		})
	}
	return out
}

// FromTemplate returns the overrides to persist when a template is dealt.
// Every field is copied so the player keeps their character even if
// earlier joiners leave and positions shift.
func FromTemplate(template model.Traits) model.Traits {
	return template
}
