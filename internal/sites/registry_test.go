package sites

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

const registryYAML = `
sites:
  - key: enwiki
    api_url: https://en.example.org
    dsn: postgres://en
  - key: dewiki
    api_url: https://de.example.org
    dsn: postgres://de
`

func TestParse(t *testing.T) {
	reg, err := Parse([]byte(registryYAML))
	require.NoError(t, err)

	assert.Equal(t, []models.SiteKey{"enwiki", "dewiki"}, reg.Keys())

	site, ok := reg.Lookup("dewiki")
	require.True(t, ok)
	assert.Equal(t, "https://de.example.org", site.APIURL)

	_, ok = reg.Lookup("frwiki")
	assert.False(t, ok)

	assert.Equal(t, map[models.SiteKey]string{
		"enwiki": "postgres://en",
		"dewiki": "postgres://de",
	}, reg.DSNs())
}

func TestParseRejectsDuplicateKeys(t *testing.T) {
	_, err := Parse([]byte(`
sites:
  - key: enwiki
    api_url: https://a
    dsn: d
  - key: enwiki
    api_url: https://b
    dsn: d
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate site key")
}

func TestParseRejectsMissingKey(t *testing.T) {
	_, err := Parse([]byte(`
sites:
  - api_url: https://a
    dsn: d
`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, reg.Sites, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
