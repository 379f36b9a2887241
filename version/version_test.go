package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillFromBuildInfo(t *testing.T) {
	stamped := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1a2b3c4d5e6f"},
			{Key: "vcs.time", Value: "2026-03-14T09:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	t.Run("placeholders are filled", func(t *testing.T) {
		info := fillFromBuildInfo(Info{Version: "dev", CommitHash: "dev", BuildTime: "unknown"}, stamped)
		assert.Equal(t, "v0.3.0", info.Version)
		assert.Equal(t, "1a2b3c4d5e6f", info.CommitHash)
		assert.True(t, info.Modified)
		assert.Equal(t, "pulseq v0.3.0 (commit 1a2b3c4+dirty, built 2026-03-14T09:00:00Z)", info.String())
	})

	t.Run("ldflags win", func(t *testing.T) {
		info := fillFromBuildInfo(Info{Version: "v1.0.0", CommitHash: "feedface", BuildTime: "yesterday"}, stamped)
		assert.Equal(t, "v1.0.0", info.Version)
		assert.Equal(t, "feedface", info.CommitHash)
		assert.Equal(t, "yesterday", info.BuildTime)
	})

	t.Run("devel builds stay dev", func(t *testing.T) {
		info := fillFromBuildInfo(Info{Version: "dev"}, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
		assert.Equal(t, "dev", info.Version)
	})
}

func TestShort(t *testing.T) {
	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
	assert.Equal(t, "1a2b3c4", Info{CommitHash: "1a2b3c4d"}.Short())
}
