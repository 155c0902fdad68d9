package traits

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/bunker/internal/model"
)

func row(user string, overrides model.Traits) *model.Participation {
	return &model.Participation{
		UserID:      model.PlayerID(user),
		DisplayName: user,
		LobbyName:   "alpha",
		JoinedAt:    time.Now(),
		Traits:      overrides,
	}
}

func TestNewPoolRejectsEmpty(t *testing.T) {
	_, err := NewPool(nil)
	assert.ErrorIs(t, err, model.ErrEmptyTemplatePool)
}

func TestAtCyclesPastEnd(t *testing.T) {
	pool, err := NewPool([]model.Traits{{Profession: "A"}, {Profession: "B"}})
	require.NoError(t, err)

	tests := []struct {
		position int
		want     string
	}{
		{0, "A"},
		{1, "B"},
		{2, "A"},
		{5, "B"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pool.At(tt.position).Profession, "position %d", tt.position)
	}
}

func TestApplyOverridesOnlyNonEmpty(t *testing.T) {
	template := model.Traits{Profession: "Surgeon", Age: 41, Phobia: "Heights"}
	got := Apply(template, model.Traits{Profession: "Pilot"})

	assert.Equal(t, "Pilot", got.Profession)
	assert.Equal(t, 41, got.Age)
	assert.Equal(t, "Heights", got.Phobia)

	got = Apply(template, model.Traits{Age: 70})
	assert.Equal(t, 70, got.Age)
	assert.Equal(t, "Surgeon", got.Profession)
}

func TestApplyWithoutOverridesKeepsTemplate(t *testing.T) {
	template := model.Traits{Profession: "Surgeon", Age: 41, Phobia: "Heights"}

	assert.True(t, model.Traits{}.IsZero())
	assert.False(t, model.Traits{Age: 1}.IsZero())
	assert.Equal(t, template, Apply(template, model.Traits{}))
}

func TestDefaultBunker(t *testing.T) {
	b := DefaultBunker()
	assert.Positive(t, b.AreaSquareMetres)
	assert.Positive(t, b.FoodFor)
	assert.NotEmpty(t, b.Duration)
}

func TestCharacterizeAssignsPositionsAndTemplates(t *testing.T) {
	pool := DefaultPool()
	rows := []*model.Participation{
		row("alice", model.Traits{}),
		row("bob", model.Traits{Hobby: "Knitting"}),
	}

	players := Characterize(rows, pool)

	require.Len(t, players, 2)
	assert.Equal(t, 1, players[0].ID)
	assert.Equal(t, "alice", players[0].Name)
	assert.Equal(t, pool.At(0).Profession, players[0].Profession)
	assert.True(t, players[0].Online)

	assert.Equal(t, 2, players[1].ID)
	assert.Equal(t, "Knitting", players[1].Hobby)
	assert.Equal(t, pool.At(1).Profession, players[1].Profession)
}

func TestCharacterizeFallsBackToUserID(t *testing.T) {
	r := row("u-1", model.Traits{})
	r.DisplayName = ""

	players := Characterize([]*model.Participation{r}, DefaultPool())
	assert.Equal(t, "u-1", players[0].Name)
}

func TestCharacterizeIsDeterministic(t *testing.T) {
	rows := []*model.Participation{row("a", model.Traits{}), row("b", model.Traits{}), row("c", model.Traits{})}
	assert.Equal(t, Characterize(rows, DefaultPool()), Characterize(rows, DefaultPool()))
}

func TestCharacterizeMoreRowsThanTemplates(t *testing.T) {
	pool, _ := NewPool([]model.Traits{{Profession: "Only"}})
	rows := []*model.Participation{row("a", model.Traits{}), row("b", model.Traits{})}

	players := Characterize(rows, pool)
	require.Len(t, players, 2)
	assert.Equal(t, "Only", players[1].Profession)
	assert.Equal(t, 2, players[1].ID)
}

func TestLoadPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"profession":"Pilot","age":40},{"profession":"Cook"}]`), 0o600))

	pool, err := LoadPool(path)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Len())
	assert.Equal(t, "Pilot", pool.At(0).Profession)
	assert.Equal(t, 40, pool.At(0).Age)
}

func TestLoadPoolErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPool(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o600))
	_, err = LoadPool(empty)
	assert.ErrorIs(t, err, model.ErrEmptyTemplatePool)

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte(`{`), 0o600))
	_, err = LoadPool(garbage)
	assert.Error(t, err)
}
