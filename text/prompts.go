// Package text holds the prompt engineering shared by the describer
// providers.
package text

import "fmt"

// PromptPrefix is prepended to every generated diffusion prompt.
const PromptPrefix = "(photorealistic:1.2), raw, masterpiece, high quality, 8k, "

// NegativePrompt steers the sampler away from common failure modes.
const NegativePrompt = "low quality, blurry, distorted, disfigured, bad anatomy"

// ContentInstruction asks for a composition-only description of the content
// image: what is where, never how it is rendered.
const ContentInstruction = "Describe this image focusing specifically on the exact poses, positions of people, " +
	"the objects present, and their spatial arrangement. Include details about the people's positions, " +
	"expressions, and clothing. Be precise about the composition, but don't describe the style or artistic qualities."

// StyleInstruction asks for a rendering-only description of the style image:
// how it looks, never what is in it.
const StyleInstruction = "Describe the artistic style, texture, color palette, and visual theme of this image. " +
	"Focus on how it's rendered (digital art, oil painting, photography style, etc.), " +
	"the mood it conveys, lighting techniques, and any distinctive visual characteristics. " +
	"Don't describe the content or subjects of the image."

// CombineSystem primes the model for merging the two descriptions.
const CombineSystem = "You are a prompt engineering assistant. Your task is to create effective " +
	"Stable Diffusion prompts by combining content and style descriptions."

// CombineInstruction builds the user message that merges a content and a
// style description into one short diffusion prompt.
func CombineInstruction(content, style string) string {
	return fmt.Sprintf("I need to create a high-quality image using Stable Diffusion. "+
		"Please combine these two descriptions into a single, coherent prompt with 2 short sentences (maximum 77 tokens):\n\n"+
		"CONTENT DESCRIPTION (preserve all positioning, people, and objects exactly as described):\n%s\n\n"+
		"STYLE DESCRIPTION (apply this artistic style to the content):\n%s\n\n"+
		"Create a prompt that would generate an image with the exact content described (same people, poses, objects) "+
		"but rendered in the artistic style described. The prompt should be concise but detailed, focusing on both content and style aspects.",
		content, style)
}

// Fallbacks used when a describer provider is down, so a dead prompt service
// degrades the prompt rather than failing the job.
const (
	FallbackContent = "A photograph showing people and objects in a natural arrangement."
	FallbackStyle   = "A visually striking artistic style with vibrant colors and detailed textures."
)

// FallbackCombined is the no-model merge of the two descriptions.
func FallbackCombined(content, style string) string {
	return fmt.Sprintf("A detailed image showing %s rendered in %s style.", content, style)
}
