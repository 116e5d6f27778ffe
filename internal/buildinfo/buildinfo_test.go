package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInfo_DefaultsAndSet(t *testing.T) {
	ov, od, oc := BuildVersion, BuildDate, BuildCommit
	t.Cleanup(func() { BuildVersion, BuildDate, BuildCommit = ov, od, oc })

	BuildVersion, BuildDate, BuildCommit = "", "", ""
	require.Equal(t, map[string]string{"version": "N/A", "date": "N/A", "commit": "N/A"}, Info())

	BuildVersion, BuildDate, BuildCommit = "v1", "2025-09-06", "deadbeef"
	require.Equal(t, "deadbeef", Info()["commit"])

	core, logs := observer.New(zap.InfoLevel)
	Log(zap.New(core).Sugar())
	require.Equal(t, "v1", logs.All()[0].ContextMap()["version"])
}
