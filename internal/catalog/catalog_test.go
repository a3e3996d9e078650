package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RepositoryData(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "data"))
	require.NoError(t, err)

	loc, ok := c.Location("Freeside Shack")
	require.True(t, ok)
	assert.Equal(t, domain.TierCommon, loc.Rarity)
	assert.Equal(t, 1, loc.Level)

	assert.NotEmpty(t, c.Quests())
	assert.NotEmpty(t, c.Locations())
}

func TestParse_DefaultsTierAndLevel(t *testing.T) {
	c, err := Parse([]byte(`[{"n":"Goodsprings","lat":35.83,"lng":-115.43}]`), []byte(`[]`))
	require.NoError(t, err)

	loc, ok := c.Location("Goodsprings")
	require.True(t, ok)
	assert.Equal(t, domain.TierCommon, loc.Rarity)
	assert.Equal(t, 1, loc.Level)
}

func TestParse_RejectsInvalidDocuments(t *testing.T) {
	cases := map[string]struct {
		locations string
		quests    string
	}{
		"latitude out of range": {`[{"n":"X","lat":91,"lng":0}]`, `[]`},
		"unknown rarity":        {`[{"n":"X","lat":1,"lng":0,"rarity":"mythic"}]`, `[]`},
		"missing name":          {`[{"lat":1,"lng":0}]`, `[]`},
		"duplicate location":    {`[{"n":"X","lat":1,"lng":0},{"n":"X","lat":2,"lng":0}]`, `[]`},
		"quest without goal":    {`[{"n":"X","lat":1,"lng":0}]`, `[{"id":"q","name":"Q"}]`},
		"quest unknown target":  {`[{"n":"X","lat":1,"lng":0}]`, `[{"id":"q","name":"Q","goal":1,"objectives":["Y"]}]`},
		"not an array":          {`{"n":"X"}`, `[]`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.locations), []byte(tc.quests))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingQuestsFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "locations.json"), []byte(`[{"n":"X","lat":1,"lng":2}]`), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, c.Quests())
}

func TestLocations_ReturnsCopy(t *testing.T) {
	c, err := Parse([]byte(`[{"n":"B","lat":1,"lng":2},{"n":"A","lat":1,"lng":2}]`), []byte(`[]`))
	require.NoError(t, err)

	locs := c.Locations()
	require.Len(t, locs, 2)
	assert.Equal(t, "A", locs[0].ID)

	locs[0].ID = "mutated"
	_, ok := c.Location("A")
	assert.True(t, ok)
	assert.Equal(t, "A", c.Locations()[0].ID)
}
