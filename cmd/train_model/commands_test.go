package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exovision/ml"
	"exovision/ml/mltest"
)

const fastConfig = `
training:
  n_iter: 2
  grid:
    n_estimators: [5, 8]
    max_depth: [4]
    min_samples_split: [2]
    min_samples_leaf: [1]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestTrainPredictAndList(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	cfg := writeFile(t, dir, "config.yaml", []byte(fastConfig))
	train := writeFile(t, dir, "koi.csv", mltest.CSV(15, 5, 3))

	out, err := execute(t, "train", "--config", cfg, "--models-dir", models, "--name", "offline", train)
	require.NoError(t, err, out)
	assert.Contains(t, out, "model offline saved to "+filepath.Join(models, "offline"+ml.ArtifactExt))
	assert.Contains(t, out, "balanced accuracy:")
	assert.Contains(t, out, "- Training model")

	out, err = execute(t, "models", "--config", cfg, "--models-dir", models)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "offline"))

	predict := writeFile(t, dir, "predict.csv", mltest.CSV(2, 0, 4))
	out, err = execute(t, "predict", "--config", cfg, "--models-dir", models, "-m", "offline", predict)
	require.NoError(t, err)
	assert.Contains(t, out, "ROW")
	assert.Contains(t, out, ml.DispositionConfirmed)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 7)
}

func TestTrainErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", []byte(fastConfig))
	train := writeFile(t, dir, "koi.csv", mltest.CSV(5, 0, 1))

	_, err := execute(t, "train", "--config", cfg, "--models-dir", dir, train)
	assert.ErrorContains(t, err, `"name" not set`)

	_, err = execute(t, "train", "--config", cfg, "--models-dir", dir, "--name", "bad name", train)
	assert.Error(t, err)

	_, err = execute(t, "train", "--config", cfg, "--models-dir", dir, "--name", "x", filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	_, err = execute(t, "predict", "--config", cfg, "--models-dir", dir, "-m", "nope", train)
	assert.Error(t, err)
}
