package safety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandForAge(t *testing.T) {
	assert.Equal(t, AgeBand7to8, BandForAge(7))
	assert.Equal(t, AgeBand7to8, BandForAge(8))
	assert.Equal(t, AgeBand9to10, BandForAge(9))
	assert.Equal(t, AgeBand9to10, BandForAge(10))
	assert.Equal(t, AgeBand11to12, BandForAge(11))
	assert.Equal(t, AgeBand11to12, BandForAge(12))
}

func TestResponseTemplatesSelect(t *testing.T) {
	templates := map[string]map[AgeBand][]string{
		"emotional_support":     {AgeBand9to10: {"support text"}},
		"swearing":              {AgeBand9to10: {"language text"}},
		"inappropriate_content": {AgeBand9to10: {"inappropriate text"}},
		"gentle_redirect":       {AgeBand9to10: {"redirect text"}},
		"block_response":        {AgeBand9to10: {"block text"}},
		"escalate_response":     {AgeBand9to10: {"escalate text"}},
		"default":               {AgeBand9to10: {"default text"}},
	}
	rt := NewResponseTemplates(templates, nil)

	tests := []struct {
		name    string
		verdict Verdict
		want    string
	}{
		{
			"emotional support marker wins over action",
			Verdict{Action: ActionBlock, FlaggedTerms: []string{"emotional_support"}},
			"support text",
		},
		{
			"swearing marker",
			Verdict{Action: ActionWarn, FlaggedTerms: []string{"swearing"}},
			"language text",
		},
		{
			"inappropriate marker via tag alias",
			Verdict{Action: ActionWarn, FlaggedTerms: []string{"substances"}},
			"inappropriate text",
		},
		{
			"warn action redirects",
			Verdict{Action: ActionWarn},
			"redirect text",
		},
		{
			"block action",
			Verdict{Action: ActionBlock},
			"block text",
		},
		{
			"escalate action",
			Verdict{Action: ActionEscalate},
			"escalate text",
		},
		{
			"allow falls through to default",
			Verdict{Action: ActionAllow},
			"default text",
		},
		{
			"marker precedence: emotional support beats swearing",
			Verdict{Action: ActionWarn, FlaggedTerms: []string{"swearing", "emotional_support"}},
			"support text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rt.Select(tt.verdict, 10))
		})
	}
}

func TestResponseTemplatesVariantChoice(t *testing.T) {
	templates := map[string]map[AgeBand][]string{
		"gentle_redirect": {AgeBand9to10: {"variant a", "variant b", "variant c"}},
	}

	// Pin the random source so the chosen variant is deterministic.
	rt := NewResponseTemplates(templates, func(n int) int { return 2 })
	assert.Equal(t, "variant c", rt.Select(Verdict{Action: ActionWarn}, 9))
}

func TestResponseTemplatesFallbacks(t *testing.T) {
	t.Run("missing key falls back to default key", func(t *testing.T) {
		templates := map[string]map[AgeBand][]string{
			"default": {AgeBand7to8: {"my default"}},
		}
		rt := NewResponseTemplates(templates, nil)
		assert.Equal(t, "my default", rt.Select(Verdict{Action: ActionBlock}, 7))
	})

	t.Run("empty table falls back to built-ins", func(t *testing.T) {
		rt := NewResponseTemplates(map[string]map[AgeBand][]string{}, nil)
		text := rt.Select(Verdict{Action: ActionBlock}, 7)
		assert.NotEmpty(t, text)
	})

	t.Run("nil table uses built-ins", func(t *testing.T) {
		rt := NewResponseTemplates(nil, nil)
		text := rt.Select(Verdict{Action: ActionEscalate}, 11)
		assert.NotEmpty(t, text)
	})
}

func TestLoadResponseTemplates(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "responses.yaml")
		content := `
templates:
  block_response:
    "9-10":
      - "file block text"
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		rt, err := LoadResponseTemplates(path)
		require.NoError(t, err)
		assert.Equal(t, "file block text", rt.Select(Verdict{Action: ActionBlock}, 10))
	})

	t.Run("missing file falls back to built-ins with error", func(t *testing.T) {
		rt, err := LoadResponseTemplates(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
		require.NotNil(t, rt)
		assert.NotEmpty(t, rt.Select(Verdict{Action: ActionBlock}, 8))
	})

	t.Run("malformed file falls back to built-ins with error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0o644))

		rt, err := LoadResponseTemplates(path)
		assert.Error(t, err)
		require.NotNil(t, rt)
		assert.NotEmpty(t, rt.Select(Verdict{Action: ActionEscalate}, 8))
	})
}
