// Package pipeline assembles the style transfer stages the scheduler runs
// per job: load and downscale the stored images, extract edges from the
// content image, build a diffusion prompt from both images and drive the
// workflow.
package pipeline

import (
	"context"
	"fmt"
	stdimage "image"

	images "stylebird/image"
	"stylebird/image/canny"
	"stylebird/image/diffusion"
	"stylebird/logger"
	"stylebird/scheduler"
	"stylebird/text"
)

// thumbnailSize bounds the working resolution of both input images. Keeps
// VRAM use predictable and the describer payloads small.
const thumbnailSize = 512

// Describer turns images into text descriptions and merges them into one
// diffusion prompt.
type Describer interface {
	DescribeContent(ctx context.Context, jpegData []byte) (string, error)
	DescribeStyle(ctx context.Context, jpegData []byte) (string, error)
	CombinePrompt(ctx context.Context, content, style string) (string, error)
}

// ImageGenerator is the diffusion backend.
type ImageGenerator interface {
	Generate(ctx context.Context, req diffusion.Request) ([]stdimage.Image, error)
	FreeVRAM(ctx context.Context) error
}

// BlobStore resolves the image refs recorded at submission time.
type BlobStore interface {
	GetImage(ref string) ([]byte, error)
}

type Pipeline struct {
	store     BlobStore
	describer Describer
	generator ImageGenerator
}

func New(store BlobStore, describer Describer, generator ImageGenerator) *Pipeline {
	return &Pipeline{
		store:     store,
		describer: describer,
		generator: generator,
	}
}

// Preprocess loads a stored image blob and downscales it to the working
// resolution.
func (p *Pipeline) Preprocess(ctx context.Context, ref string) (stdimage.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.store.GetImage(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", ref, err)
	}
	img, err := images.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", ref, err)
	}
	return images.Thumbnail(img, thumbnailSize), nil
}

// ExtractEdges produces the controlnet conditioning image from the content
// image.
func (p *Pipeline) ExtractEdges(ctx context.Context, img stdimage.Image, resolutionHint int) (stdimage.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, images.ErrEmptyImage
	}
	return canny.Detect(img, resolutionHint), nil
}

// BuildPrompt describes both images and merges the descriptions into one
// diffusion prompt. Describer failures degrade to fallback text instead of
// failing the job.
func (p *Pipeline) BuildPrompt(ctx context.Context, content, style stdimage.Image) (string, error) {
	contentJpeg, err := images.EncodeJpeg(content)
	if err != nil {
		return "", fmt.Errorf("failed to encode content image: %w", err)
	}
	styleJpeg, err := images.EncodeJpeg(style)
	if err != nil {
		return "", fmt.Errorf("failed to encode style image: %w", err)
	}

	contentDesc, err := p.describer.DescribeContent(ctx, contentJpeg)
	if err != nil {
		logger.Warn("Content description failed, using fallback", "error", err)
		contentDesc = text.FallbackContent
	}
	styleDesc, err := p.describer.DescribeStyle(ctx, styleJpeg)
	if err != nil {
		logger.Warn("Style description failed, using fallback", "error", err)
		styleDesc = text.FallbackStyle
	}

	prompt, err := p.describer.CombinePrompt(ctx, contentDesc, styleDesc)
	if err != nil || prompt == "" {
		logger.Warn("Prompt merge failed, using fallback", "error", err)
		prompt = text.FallbackCombined(contentDesc, styleDesc)
	}
	return text.PromptPrefix + prompt, nil
}

// Generate runs the diffusion workflow.
func (p *Pipeline) Generate(ctx context.Context, req scheduler.GenerateRequest) ([]stdimage.Image, error) {
	return p.generator.Generate(ctx, diffusion.Request{
		Prompt:            req.Prompt,
		NegativePrompt:    text.NegativePrompt,
		BaseImage:         req.BaseImage,
		StyleImage:        req.StyleImage,
		EdgeImage:         req.EdgeImage,
		GuidanceScale:     req.Params.GuidanceScale,
		ConditioningScale: req.Params.ConditioningScale,
		Steps:             req.Params.InferenceSteps,
		IPAdapterScale:    req.Params.IPAdapterScale,
		Count:             req.Count,
	})
}

// ReleaseResources frees the diffusion backend's device memory between jobs.
func (p *Pipeline) ReleaseResources(ctx context.Context) error {
	return p.generator.FreeVRAM(ctx)
}
