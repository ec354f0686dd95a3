package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
features:
  show-feature:
    value: true
  button-color:
    value: red
    source: experiment
    ruleId: exp-rule
    experiment:
      key: button-test
      variationId: 1
      variationKey: red
      inExperiment: true
  price:
    value: 100
`

func TestParseFixtures(t *testing.T) {
	features, err := ParseFixtures([]byte(fixtureYAML))
	require.NoError(t, err)
	require.Len(t, features, 3)

	show := features["show-feature"]
	assert.Equal(t, SourceForce, show.Source)
	assert.True(t, show.On)

	color := features["button-color"]
	assert.Equal(t, "red", color.Value)
	assert.Equal(t, SourceExperiment, color.Source)
	assert.Equal(t, "exp-rule", color.RuleID)
	require.NotNil(t, color.Experiment)
	assert.Equal(t, "button-test", color.Experiment.Key)
	assert.Equal(t, 1, color.Experiment.VariationID)
	assert.Equal(t, "red", color.Experiment.VariationKey)

	assert.Equal(t, 100, features["price"].Value)
}

func TestParseFixtures_Invalid(t *testing.T) {
	_, err := ParseFixtures([]byte("features: [not, a, map]"))
	assert.Error(t, err)
}

func TestParseFixtures_MissingSection(t *testing.T) {
	_, err := ParseFixtures([]byte(""))
	assert.Error(t, err)

	features, err := ParseFixtures([]byte("features: {}"))
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	// write then rename so the watcher never sees a half-written file
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestFileEngine_InitializeAndEvaluate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.yaml")
	writeFixture(t, path, fixtureYAML)

	e := NewFileEngine(path, zerolog.Nop())
	require.NoError(t, e.Initialize(context.Background()))
	defer e.Close()

	res, err := e.EvalFeature(context.Background(), "button-color", UserContext{})
	require.NoError(t, err)
	assert.Equal(t, "red", res.Value)

	// second Initialize is a no-op
	require.NoError(t, e.Initialize(context.Background()))
}

func TestFileEngine_InitializeMissingFile(t *testing.T) {
	e := NewFileEngine(filepath.Join(t.TempDir(), "nope.yaml"), zerolog.Nop())
	assert.Error(t, e.Initialize(context.Background()))
	assert.NoError(t, e.Close())
}

func TestFileEngine_ReloadPublishesChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.yaml")
	writeFixture(t, path, fixtureYAML)

	e := NewFileEngine(path, zerolog.Nop())
	require.NoError(t, e.Initialize(context.Background()))
	defer e.Close()

	changes, unsub := e.Subscribe()
	defer unsub()

	writeFixture(t, path, `
features:
  show-feature:
    value: false
  price:
    value: 100
`)

	select {
	case c := <-changes:
		require.NoError(t, c.Err)
		assert.Equal(t, []string{"button-color", "show-feature"}, c.Keys)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}

	res, err := e.EvalFeature(context.Background(), "show-feature", UserContext{})
	require.NoError(t, err)
	assert.Equal(t, false, res.Value)
}

func TestFileEngine_BadReloadKeepsPreviousFeatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.yaml")
	writeFixture(t, path, fixtureYAML)

	e := NewFileEngine(path, zerolog.Nop())
	require.NoError(t, e.Initialize(context.Background()))
	defer e.Close()

	changes, unsub := e.Subscribe()
	defer unsub()

	writeFixture(t, path, "features: [broken")

	select {
	case c := <-changes:
		assert.Error(t, c.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error notification")
	}

	res, err := e.EvalFeature(context.Background(), "show-feature", UserContext{})
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
}

func TestFileEngine_RenameAwayThenBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "features.yaml")
	writeFixture(t, path, fixtureYAML)

	e := NewFileEngine(path, zerolog.Nop())
	require.NoError(t, e.Initialize(context.Background()))
	defer e.Close()

	changes, unsub := e.Subscribe()
	defer unsub()

	moved := filepath.Join(dir, "features.old")
	require.NoError(t, os.Rename(path, moved))

	select {
	case c := <-changes:
		t.Fatalf("moving the file away must not publish, got %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
	res, err := e.EvalFeature(context.Background(), "show-feature", UserContext{})
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)

	require.NoError(t, os.WriteFile(moved, []byte("features:\n  show-feature:\n    value: false\n"), 0o600))
	require.NoError(t, os.Rename(moved, path))

	select {
	case c := <-changes:
		require.NoError(t, c.Err)
		assert.Contains(t, c.Keys, "show-feature")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
	res, err = e.EvalFeature(context.Background(), "show-feature", UserContext{})
	require.NoError(t, err)
	assert.Equal(t, false, res.Value)
}
