package diffusion

import (
	stdimage "image"
)

// Request is one generation call against the workflow.
type Request struct {
	Prompt         string
	NegativePrompt string

	// BaseImage sets the output size, EdgeImage conditions the controlnet
	// and StyleImage feeds the IP adapter.
	BaseImage  stdimage.Image
	StyleImage stdimage.Image
	EdgeImage  stdimage.Image

	GuidanceScale     float64
	ConditioningScale float64
	Steps             int
	IPAdapterScale    float64
	Count             int
}

// Target names looked up in the configured workflow node map.
const (
	targetPrompt         = "prompt"
	targetNegative       = "negative"
	targetBaseImage      = "baseImage"
	targetStyleImage     = "styleImage"
	targetEdgeImage      = "edgeImage"
	targetSteps          = "steps"
	targetGuidance       = "guidance"
	targetConditioning   = "conditioning"
	targetIPAdapterScale = "ipAdapterScale"
	targetSeed           = "seed"
	targetCount          = "count"
)
