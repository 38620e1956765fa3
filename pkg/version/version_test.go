package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersion(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = origVersion, origCommit })

	Version, GitCommit = "dev", "0123456789abcdef"
	assert.Equal(t, "dev-01234567", GetVersion())

	GitCommit = ""
	assert.Equal(t, "dev-unknown", GetVersion())

	Version = "1.4.0"
	assert.Equal(t, "1.4.0", GetVersion())
	assert.Equal(t, "1.4.0", GetBuildInfo().Version)
	assert.True(t, strings.HasPrefix(UserAgent(), "hmipd/1.4.0 ("))
}
