package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion_DefaultValues(t *testing.T) {
	assert.Equal(t, "dev", Version)
	assert.Equal(t, "dev", Commit)
	assert.Equal(t, "unknown", BuildTime)
}

func TestGet(t *testing.T) {
	info := Get("assess-backend")
	assert.Equal(t, "assess-backend", info.Service)
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
}

func TestString(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "v1.2.3"
	assert.Equal(t, "v1.2.3 (commit dev, built unknown)", String())
}
