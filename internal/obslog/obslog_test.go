package obslog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWith_FallsBackToNopBeforeInit(t *testing.T) {
	base = nil
	log := With("test-component")
	require.NotNil(t, log)

	log.Infof("hello %s", "world")
	log.Debugf("debug line")
	log.Warnf("warn line")
	log.Errorf("error line")
}

func TestNew_BuildsLoggerAtRequestedLevel(t *testing.T) {
	require.NoError(t, New("DEBUG"))
	require.NotNil(t, base)
	require.True(t, base.Core().Enabled(parseLevel("DEBUG")))

	log := With("test-component")
	log.Debugf("should not panic")
	Sync()
}

func TestParseLevel_MapsKnownNames(t *testing.T) {
	require.Equal(t, -1, int(parseLevel("DEBUG")))
	require.Equal(t, 0, int(parseLevel("INFO")))
	require.Equal(t, 1, int(parseLevel("WARNING")))
	require.Equal(t, 2, int(parseLevel("ERROR")))
	require.Equal(t, 0, int(parseLevel("unknown-level")))
}
