package ml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactSaveLoad(t *testing.T) {
	artifact := trainTestArtifact(t)
	path := filepath.Join(t.TempDir(), "models", "pcos_model.json")
	require.NoError(t, artifact.Save(path))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.True(t, loaded.Schema.Equal(artifact.Schema))
	if diff := cmp.Diff(artifact.Forest, loaded.Forest); diff != "" {
		t.Fatalf("forest changed across save/load:\n%s", diff)
	}
	assert.Equal(t, fixedTime, loaded.Metadata.TrainedAt)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")
}

func TestInferenceSchemaMatchesTraining(t *testing.T) {
	ds := testDataset(40)
	artifact, _, err := testTrainer(5).Train(testContext(t), ds)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pcos_model.json")
	require.NoError(t, artifact.Save(path))

	p, err := LoadModel(path)
	require.NoError(t, err)
	served, err := p.Schema()
	require.NoError(t, err)

	trained, err := NewFeatureSchema(ds.Features, ds.Label)
	require.NoError(t, err)
	assert.True(t, served.Equal(trained))

	reordered, err := NewFeatureSchema([]string{"Blood Group", "Follicle No. (R)"}, ds.Label)
	require.NoError(t, err)
	assert.False(t, served.Equal(reordered), "feature order is part of the schema")
}

func TestArtifactSaveInvalidKeepsExisting(t *testing.T) {
	artifact := trainTestArtifact(t)
	path := filepath.Join(t.TempDir(), "pcos_model.json")
	require.NoError(t, artifact.Save(path))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	broken := *artifact
	broken.Schema = FeatureSchema{Features: []string{"only one"}, Label: "PCOS (Y/N)"}
	require.Error(t, broken.Save(path))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoadArtifactUnavailable(t *testing.T) {
	dir := t.TempDir()
	artifact := trainTestArtifact(t)
	good := filepath.Join(dir, "good.json")
	require.NoError(t, artifact.Save(good))
	data, err := os.ReadFile(good)
	require.NoError(t, err)

	truncated := filepath.Join(dir, "truncated.json")
	require.NoError(t, os.WriteFile(truncated, data[:len(data)/2], 0o644))

	wrongFormat := filepath.Join(dir, "format.json")
	require.NoError(t, os.WriteFile(wrongFormat,
		[]byte(strings.Replace(string(data), ArtifactFormat, "other/v9", 1)), 0o644))

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not json"), 0o644))

	for _, path := range []string{filepath.Join(dir, "missing.json"), truncated, wrongFormat, garbage} {
		_, err := LoadArtifact(path)
		assert.ErrorIs(t, err, ErrModelUnavailable, filepath.Base(path))
	}
}

func TestReadArtifactSchemaForestMismatch(t *testing.T) {
	artifact := trainTestArtifact(t)
	artifact.Schema.Features = append(artifact.Schema.Features, "extra")
	assert.Error(t, artifact.Validate())
}
