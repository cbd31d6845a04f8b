package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRuntimeDefaults(t *testing.T) {
	rt, err := LoadRuntime()
	require.NoError(t, err)
	assert.Equal(t, "file", rt.StateBackend)
	assert.Equal(t, "kiln.state.json", rt.StatePath)
}

func TestLoadRuntimeFromEnv(t *testing.T) {
	t.Setenv("KILN_STATE_BACKEND", "s3")
	t.Setenv("KILN_S3_BUCKET", "kiln-state")
	t.Setenv("KILN_S3_REGION", "eu-central-1")
	t.Setenv("KILN_HCLOUD_TOKEN", "token")

	rt, err := LoadRuntime()
	require.NoError(t, err)
	assert.Equal(t, "s3", rt.StateBackend)
	assert.Equal(t, "kiln-state", rt.S3.Bucket)
	assert.Equal(t, "eu-central-1", rt.S3.Region)
}

func TestLoadRuntimeRejectsS3WithoutBucket(t *testing.T) {
	t.Setenv("KILN_STATE_BACKEND", "s3")

	_, err := LoadRuntime()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestLoadRuntimeRejectsUnknownBackend(t *testing.T) {
	t.Setenv("KILN_STATE_BACKEND", "etcd")

	_, err := LoadRuntime()
	require.Error(t, err)
}
