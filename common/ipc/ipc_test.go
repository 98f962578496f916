package ipc

import (
	"encoding/json"
	"testing"

	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type source struct {
	outputs []*output.Output
	modes   map[string][]kms.Mode
}

func (s source) Outputs() []*output.Output    { return s.outputs }
func (s source) Modes(name string) []kms.Mode { return s.modes[name] }

func testSource() source {
	return source{
		outputs: []*output.Output{{Name: "eDP-1"}, {Name: "HDMI-A-1"}},
		modes: map[string][]kms.Mode{
			"eDP-1": {
				{Width: 1920, Height: 1080, Refresh: 60, Type: kms.ModeTypePreferred},
				{Width: 1280, Height: 720, Refresh: 60},
			},
		},
	}
}

func TestAnswerAll(t *testing.T) {
	resp := Answer(OutputRequest{}, testSource())
	assert.Equal(t, []string{"eDP-1", "HDMI-A-1"}, resp.Outputs)
	assert.Equal(t, 2, resp.OutputsFound)
	assert.Nil(t, resp.OutputModes)
}

func TestAnswerTargetWithModes(t *testing.T) {
	resp := Answer(OutputRequest{IncludeModes: true, SpecifiesOutput: true, TargetOutput: "eDP-1"}, testSource())
	assert.Equal(t, []string{"eDP-1"}, resp.Outputs)
	require.Len(t, resp.OutputModes["eDP-1"], 2)
	assert.Equal(t, OutputMode{Height: 1080, Width: 1920, RefreshRate: 60000, Preferred: true}, resp.OutputModes["eDP-1"][0])
	assert.False(t, resp.OutputModes["eDP-1"][1].Preferred)
}

func TestAnswerUnknownTarget(t *testing.T) {
	resp := Answer(OutputRequest{SpecifiesOutput: true, TargetOutput: "DP-3"}, testSource())
	assert.Equal(t, 0, resp.OutputsFound)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"outputs":[],"outputs_found":0}`, string(raw))
}
