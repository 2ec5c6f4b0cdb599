package ingestion

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetadata(t *testing.T) {
	content := "Résumé\n- Go\n- SQL"
	meta := NewMetadata(content, "cv.txt")

	assert.Equal(t, "cv.txt", meta.Source)
	assert.Equal(t, computeHash(content), meta.Hash)
	assert.Len(t, meta.Hash, 64)
	assert.Equal(t, 17, meta.Characters)
	assert.Equal(t, 2, meta.Bullets)

	ts, err := time.Parse(time.RFC3339, meta.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestComputeHash(t *testing.T) {
	assert.Equal(t, computeHash("same"), computeHash("same"))
	assert.NotEqual(t, computeHash("one"), computeHash("two"))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", computeHash(""))
}

func TestMetadata_ToJSON(t *testing.T) {
	meta := NewMetadata("text", "")
	meta.URL = "https://jobs.lever.co/acme/1"
	meta.Platform = "lever"

	data, err := meta.ToJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "lever", decoded["platform"])
	assert.Equal(t, "https://jobs.lever.co/acme/1", decoded["url"])
	assert.NotContains(t, decoded, "source")
	assert.NotContains(t, decoded, "pages")
	assert.Contains(t, decoded, "hash")
}
