package output

import (
	"errors"
	"testing"

	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/kms/kmstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mode(w, h uint16, refresh uint32, preferred bool) kms.Mode {
	m := kms.Mode{Width: w, Height: h, Refresh: refresh}
	if preferred {
		m.Type = kms.ModeTypePreferred
	}
	return m
}

func TestPickModePreferredHighestRefresh(t *testing.T) {
	modes := []kms.Mode{
		mode(1920, 1080, 60, false),
		mode(1920, 1080, 75, true),
		mode(1280, 720, 60, true),
	}
	for i := 0; i < 3; i++ {
		m, ok := PickMode(modes)
		require.True(t, ok)
		assert.Equal(t, modes[1], m)
	}
}

func TestPickModeTiesKeepFirst(t *testing.T) {
	modes := []kms.Mode{
		mode(1920, 1080, 60, true),
		mode(1680, 1050, 60, true),
	}
	m, ok := PickMode(modes)
	require.True(t, ok)
	assert.Equal(t, uint16(1920), m.Width)
}

func TestPickModeFallsBackToFirst(t *testing.T) {
	modes := []kms.Mode{
		mode(1024, 768, 60, false),
		mode(1920, 1080, 144, false),
	}
	m, ok := PickMode(modes)
	require.True(t, ok)
	assert.Equal(t, modes[0], m)

	_, ok = PickMode(nil)
	assert.False(t, ok)
}

func TestCandidateCRTCOrder(t *testing.T) {
	dev := kmstest.NewDevice()
	dev.AddEncoder(1, 101, 102) // E1: C1, C2
	dev.AddEncoder(2, 103)      // E2: C3
	dev.SetOverlays(101, 2)
	dev.SetOverlays(102, 0)
	dev.SetOverlays(103, 1)
	conn := kmstest.Connected(50, kms.InterfaceEmbeddedDisplayPort, 1, []kms.Mode{mode(800, 600, 60, true)}, 1, 2)
	dev.AddConnector(conn)

	assert.Equal(t, []uint32{101, 102, 103}, CandidateCRTCs(dev, dev.Res, conn))
}

func TestCandidateCRTCOrderWithinEncoder(t *testing.T) {
	dev := kmstest.NewDevice()
	dev.AddEncoder(1, 101, 102, 103)
	dev.SetOverlays(101, 0)
	dev.SetOverlays(102, 3)
	dev.SetOverlays(103, 3)
	dev.PlaneErrs[101] = errors.New("nope")
	conn := kmstest.Connected(50, kms.InterfaceHDMIA, 1, nil, 1)

	assert.Equal(t, []uint32{102, 103, 101}, CandidateCRTCs(dev, dev.Res, conn))
}

func TestCandidateCRTCSharedBetweenEncoders(t *testing.T) {
	dev := kmstest.NewDevice()
	dev.AddEncoder(1, 101, 102)
	dev.AddEncoder(2, 102)
	dev.SetOverlays(101, 0)
	dev.SetOverlays(102, 1)
	conn := kmstest.Connected(50, kms.InterfaceHDMIA, 1, nil, 1, 2)

	assert.Equal(t, []uint32{102, 101, 102}, CandidateCRTCs(dev, dev.Res, conn))
}

func TestSelectTriesCRTCsInOrder(t *testing.T) {
	dev := kmstest.NewDevice()
	dev.AddEncoder(1, 101, 102)
	dev.AddEncoder(2, 103)
	dev.SetOverlays(101, 2)
	dev.SetOverlays(103, 1)
	dev.RejectCRTCs[101] = true
	dev.RejectCRTCs[102] = true
	dev.AddConnector(kmstest.Connected(50, kms.InterfaceEmbeddedDisplayPort, 1, []kms.Mode{mode(800, 600, 60, true)}, 1, 2))

	sel, err := NewSelector(nil).Select(dev)
	require.NoError(t, err)
	assert.Equal(t, []uint32{101, 102, 103}, dev.Attempts)
	assert.Equal(t, uint32(103), sel.CRTC)
	assert.Equal(t, uint32(103), sel.Surface.CRTC())
	assert.Len(t, sel.Planes.Overlay, 1)
}

func TestSelectNoPipeline(t *testing.T) {
	dev := kmstest.NewDevice()
	dev.AddEncoder(1, 101)
	dev.RejectCRTCs[101] = true
	dev.AddConnector(kmstest.Connected(50, kms.InterfaceEmbeddedDisplayPort, 1, []kms.Mode{mode(800, 600, 60, true)}, 1))

	_, err := NewSelector(nil).Select(dev)
	assert.ErrorIs(t, err, ErrNoUsableOutputPipeline)
}

func TestSelectLastMatchingConnector(t *testing.T) {
	dev := kmstest.NewDevice()
	dev.AddEncoder(1, 101)
	modes := []kms.Mode{mode(800, 600, 60, true)}
	dev.AddConnector(kmstest.Connected(50, kms.InterfaceEmbeddedDisplayPort, 1, modes, 1))
	dev.AddConnector(kmstest.Connected(51, kms.InterfaceEmbeddedDisplayPort, 2, modes, 1))
	dev.AddConnector(kmstest.Connected(52, kms.InterfaceHDMIA, 1, modes, 1))
	disconnected := kmstest.Connected(53, kms.InterfaceEmbeddedDisplayPort, 3, modes, 1)
	disconnected.State = kms.Disconnected
	dev.AddConnector(disconnected)
	dev.ConnErrs[54] = errors.New("query failed")
	dev.Res.Connectors = append(dev.Res.Connectors, 54)

	sel, err := NewSelector(nil).Select(dev)
	require.NoError(t, err)
	assert.Equal(t, "eDP-2", sel.Connector.Name())

	sel.Surface.Close()
	sel, err = NewSelector(AnyInterface).Select(dev)
	require.NoError(t, err)
	assert.Equal(t, "HDMI-A-1", sel.Connector.Name())
}

func TestSelectErrors(t *testing.T) {
	dev := kmstest.NewDevice()
	dev.AddEncoder(1, 101)
	dev.AddConnector(kmstest.Connected(50, kms.InterfaceHDMIA, 1, []kms.Mode{mode(800, 600, 60, true)}, 1))
	_, err := NewSelector(nil).Select(dev)
	assert.ErrorIs(t, err, ErrNoCompatibleDisplay)

	dev.AddConnector(kmstest.Connected(51, kms.InterfaceEmbeddedDisplayPort, 1, nil, 1))
	_, err = NewSelector(nil).Select(dev)
	assert.ErrorIs(t, err, ErrNoUsableMode)
	assert.Empty(t, dev.Attempts)
}

func TestParseConnectorFilter(t *testing.T) {
	edp := kms.Connector{Interface: kms.InterfaceEmbeddedDisplayPort}
	hdmi := kms.Connector{Interface: kms.InterfaceHDMIA}
	dp := kms.Connector{Interface: kms.InterfaceDisplayPort}

	f, err := ParseConnectorFilter(nil)
	require.NoError(t, err)
	assert.True(t, f(edp))
	assert.False(t, f(hdmi))

	f, err = ParseConnectorFilter([]string{"hdmi-a", "DP"})
	require.NoError(t, err)
	assert.False(t, f(edp))
	assert.True(t, f(hdmi))
	assert.True(t, f(dp))

	f, err = ParseConnectorFilter([]string{"eDP", "*"})
	require.NoError(t, err)
	assert.True(t, f(hdmi))

	_, err = ParseConnectorFilter([]string{"HDMI-C"})
	assert.Error(t, err)
}
