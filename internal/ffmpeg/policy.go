package ffmpeg

import "strings"

// Downscale thresholds. Inputs at or above UHD are capped to FHD.
const (
	UHDWidth  = 3840
	UHDHeight = 2160
	FHDWidth  = 1920
	FHDHeight = 1080
)

// Filter is one entry of an ffmpeg -vf filter chain.
type Filter struct {
	Name string
	Args string
}

func (f Filter) String() string {
	if f.Args == "" {
		return f.Name
	}
	return f.Name + "=" + f.Args
}

// NoiseFilter is a low-amplitude temporal+uniform noise that changes the
// output fingerprint without visible quality loss.
var NoiseFilter = Filter{Name: "noise", Args: "alls=1:allf=t+u"}

// ResolutionDecision is the per-task output geometry. Computed once, never mutated.
type ResolutionDecision struct {
	Downscale bool
	Filters   []Filter
}

// FilterGraph renders the chain for ffmpeg's -vf argument.
func (d ResolutionDecision) FilterGraph() string {
	parts := make([]string, len(d.Filters))
	for i, f := range d.Filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}

// Decide picks the filter chain for a probed input.
func Decide(probe VideoProbe) ResolutionDecision {
	if probe.Width >= UHDWidth && probe.Height >= UHDHeight {
		return ResolutionDecision{
			Downscale: true,
			Filters: []Filter{
				{Name: "scale", Args: "1920:1080:force_original_aspect_ratio=decrease"},
				{Name: "pad", Args: "1920:1080:(ow-iw)/2:(oh-ih)/2"},
				{Name: "setsar", Args: "1"},
				NoiseFilter,
			},
		}
	}

	return ResolutionDecision{
		Downscale: false,
		Filters:   []Filter{NoiseFilter},
	}
}
