package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBuildTime(t *testing.T) {
	orig := BuildTime
	defer func() { BuildTime = orig }()

	BuildTime = "unknown"
	assert.Equal(t, "unknown", formatBuildTime())

	BuildTime = "2024-03-01T10:20:30Z"
	assert.Equal(t, "Fri Mar 1 10:20:30 2024", formatBuildTime())

	BuildTime = "not-a-time"
	assert.Equal(t, "not-a-time", formatBuildTime())
}

func TestClientInfo(t *testing.T) {
	info := ClientInfo()
	assert.Equal(t, Version, info["Version"])
	assert.Equal(t, ProtocolVersion, info["ProtocolVersion"])
	assert.NotEmpty(t, info["GoVersion"])
}
