// Package ipc holds the messages the debug repl answers with
package ipc

import (
	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/output"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

type (
	// A request to list the available Outputs
	OutputRequest struct {
		// Whether to include the modes an output supports
		IncludeModes bool `json:"include_modes"`
		// Target one specific output
		SpecifiesOutput bool `json:"specifies_output"`
		// Name of the output you want info on. Only matters if SpecifiesOutput is set
		TargetOutput string `json:"target_output"`
	}

	// A mode an output supports
	OutputMode struct {
		// Mode height in pixel
		Height int `json:"height"`
		// Mode width in pixel
		Width int `json:"width"`
		// Refresh rate of the mode in millihertz
		RefreshRate int  `json:"refresh_rate"`
		Preferred   bool `json:"preferred,omitempty"`
	}

	// Response to a OutputRequest message
	OutputResponse struct {
		// List of all outputs. Only contains target output if specified
		Outputs []string `json:"outputs"`
		// A list of modes an output supports. Only set if IncludeModes is true
		OutputModes map[string][]OutputMode `json:"output_modes,omitempty"`
		// Nr of outputs found
		OutputsFound int `json:"outputs_found"`
	}
)

// OutputSource is whatever knows the current outputs
type OutputSource interface {
	Outputs() []*output.Output
	// Modes lists every mode of the named output
	Modes(name string) []kms.Mode
}

func ModeFrom(m kms.Mode) OutputMode {
	return OutputMode{
		Height:      int(m.Height),
		Width:       int(m.Width),
		RefreshRate: m.RefreshMilliHz(),
		Preferred:   m.Preferred(),
	}
}

// Answer builds the response to req from the outputs src knows about
func Answer(req OutputRequest, src OutputSource) OutputResponse {
	outputs := src.Outputs()
	if req.SpecifiesOutput {
		outputs = sliceutils.Filter(outputs, func(o *output.Output) bool {
			return o.Name == req.TargetOutput
		})
	}
	resp := OutputResponse{Outputs: []string{}, OutputsFound: len(outputs)}
	if req.IncludeModes {
		resp.OutputModes = make(map[string][]OutputMode, len(outputs))
	}
	for _, o := range outputs {
		resp.Outputs = append(resp.Outputs, o.Name)
		if !req.IncludeModes {
			continue
		}
		modes := []OutputMode{}
		for _, m := range src.Modes(o.Name) {
			modes = append(modes, ModeFrom(m))
		}
		resp.OutputModes[o.Name] = modes
	}
	return resp
}
