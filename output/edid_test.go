package output

import (
	"testing"

	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/kms/kmstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEDID builds a base block for manufacturer id and product code with the given descriptors
func testEDID(id string, product uint16, descriptors map[byte]string) []byte {
	data := make([]byte, 128)
	copy(data, edidHeader)
	v := uint16(id[0]-'A'+1)<<10 | uint16(id[1]-'A'+1)<<5 | uint16(id[2]-'A'+1)
	data[8] = byte(v >> 8)
	data[9] = byte(v)
	data[10] = byte(product)
	data[11] = byte(product >> 8)
	off := 54
	for tag, text := range descriptors {
		d := data[off : off+18]
		d[3] = tag
		payload := []byte(text + "\n")
		for len(payload) < 13 {
			payload = append(payload, ' ')
		}
		copy(d[5:], payload)
		off += 18
	}
	return data
}

func TestParseEDID(t *testing.T) {
	info, err := ParseEDID(testEDID("DEL", 0x40b4, map[byte]string{descriptorName: "DELL U2415"}))
	require.NoError(t, err)
	assert.Equal(t, "Dell Inc.", info.Make)
	assert.Equal(t, "DELL U2415", info.Model)

	info, err = ParseEDID(testEDID("XYZ", 0x1234, map[byte]string{descriptorSerial: "ABC123"}))
	require.NoError(t, err)
	assert.Equal(t, "XYZ", info.Make)
	assert.Equal(t, "0x1234", info.Model)
	assert.Equal(t, "ABC123", info.Serial)
}

func TestParseEDIDInvalid(t *testing.T) {
	info, err := ParseEDID([]byte{0, 1, 2})
	assert.ErrorIs(t, err, ErrInvalidEDID)
	assert.Equal(t, UnknownDisplay, info)

	bad := testEDID("DEL", 1, nil)
	bad[1] = 0
	_, err = ParseEDID(bad)
	assert.ErrorIs(t, err, ErrInvalidEDID)
}

func TestNewOutput(t *testing.T) {
	dev := kmstest.SimpleDevice()
	sel, err := NewSelector(nil).Select(dev)
	require.NoError(t, err)

	out := NewOutput(dev, sel)
	assert.Equal(t, "eDP-1", out.Name)
	assert.Equal(t, unknown, out.Physical.Make)
	assert.Equal(t, unknown, out.Physical.Model)
	assert.Equal(t, uint32(310), out.Physical.Width)
	assert.Equal(t, sel.Mode, out.CurrentMode)
	assert.Equal(t, sel.Mode, out.PreferredMode)
	assert.Equal(t, 64, out.Geometry().Dx())

	dev.EDIDs[sel.Connector.Handle] = testEDID("LGD", 0x0555, nil)
	out = NewOutput(dev, sel)
	assert.Equal(t, "LG Display", out.Physical.Make)
	assert.Equal(t, "0x0555", out.Physical.Model)
}

func TestNewOutputPreferredDiffers(t *testing.T) {
	dev := kmstest.SimpleDevice()
	sel := Selection{
		Connector: kmstest.Connected(1, kms.InterfaceDisplayPort, 3, []kms.Mode{
			mode(640, 480, 60, false),
			mode(1920, 1080, 60, true),
		}),
		Mode: mode(640, 480, 60, false),
	}
	out := NewOutput(dev, sel)
	assert.Equal(t, "DP-3", out.Name)
	assert.Equal(t, uint16(1920), out.PreferredMode.Width)
	assert.Equal(t, uint16(640), out.CurrentMode.Width)
}
