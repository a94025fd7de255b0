// Package diffusion runs the style transfer workflow on a ComfyUI instance.
// The workflow graph lives in a JSON file; which nodes receive the prompt,
// the conditioning images and the sampler settings is configured per
// deployment rather than hardcoded.
package diffusion

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	stdimage "image"
	"image/png"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	images "stylebird/image"
	"stylebird/logger"
	"stylebird/settings"

	"github.com/google/uuid"
	"github.com/richinsley/comfy2go/client"
	"github.com/schollz/progressbar/v3"
)

type Generator struct {
	cfg settings.ComfyUiConfig
}

func New(cfg settings.ComfyUiConfig) *Generator {
	return &Generator{cfg: cfg}
}

// Generate queues the workflow and blocks until ComfyUI delivers the output
// images or fails.
func (g *Generator) Generate(ctx context.Context, req Request) ([]stdimage.Image, error) {
	inputs, cleanup, err := g.writeInputs(req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	widgetUpdates := make(map[string]map[int]interface{})
	set := func(name string, value interface{}) error {
		target, ok := g.cfg.Targets[name]
		if !ok {
			return fmt.Errorf("no workflow target configured for %q", name)
		}
		if _, ok := widgetUpdates[target.Node]; !ok {
			widgetUpdates[target.Node] = make(map[int]interface{})
		}
		widgetUpdates[target.Node][target.Widget] = value
		return nil
	}

	required := map[string]interface{}{
		targetPrompt:         req.Prompt,
		targetNegative:       req.NegativePrompt,
		targetBaseImage:      inputs[targetBaseImage],
		targetStyleImage:     inputs[targetStyleImage],
		targetEdgeImage:      inputs[targetEdgeImage],
		targetSteps:          req.Steps,
		targetGuidance:       req.GuidanceScale,
		targetConditioning:   req.ConditioningScale,
		targetIPAdapterScale: req.IPAdapterScale,
	}
	for name, value := range required {
		if err := set(name, value); err != nil {
			return nil, err
		}
	}

	// Optional targets: only set when the workflow exposes them.
	if _, ok := g.cfg.Targets[targetSeed]; ok {
		seed, err := rand.Int(rand.Reader, big.NewInt(1<<63-1))
		if err != nil {
			return nil, fmt.Errorf("failed to generate random seed: %w", err)
		}
		if err := set(targetSeed, seed.Int64()); err != nil {
			return nil, err
		}
	}
	if _, ok := g.cfg.Targets[targetCount]; ok && req.Count > 0 {
		if err := set(targetCount, req.Count); err != nil {
			return nil, err
		}
	}

	c := client.NewComfyClient(g.cfg.Url, g.cfg.Port, nil)
	if !c.IsInitialized() {
		if err := c.Init(); err != nil {
			return nil, fmt.Errorf("error initializing client: %w", err)
		}
	}

	graph, _, err := c.NewGraphFromJsonFile(g.cfg.WorkflowFile)
	if err != nil {
		return nil, fmt.Errorf("error loading graph JSON: %w", err)
	}

	apiNodes := graph.GetNodesInGroup(graph.GetGroupWithTitle("API"))
	for _, node := range apiNodes {
		updates, typeExists := widgetUpdates[node.Type]
		if !typeExists {
			updates = widgetUpdates[node.Title]
		}
		if updates == nil {
			continue
		}
		if values, ok := node.WidgetValues.([]interface{}); ok {
			for widgetIndex, value := range updates {
				if widgetIndex < len(values) {
					values[widgetIndex] = value
					logger.Debug("Set widget value", "widget", widgetIndex, "node", node.Title, "type", node.Type)
				}
			}
		}
	}

	item, err := c.QueuePrompt(graph)
	if err != nil {
		return nil, fmt.Errorf("failed to queue prompt: %w", err)
	}

	var out []stdimage.Image
	var bar *progressbar.ProgressBar
	var currentNodeTitle string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-item.Messages:
			switch msg.Type {
			case "started":
				qm := msg.ToPromptMessageStarted()
				logger.Info("Start executing prompt", "prompt_id", qm.PromptID)
			case "executing":
				bar = nil
				qm := msg.ToPromptMessageExecuting()
				currentNodeTitle = qm.Title
				logger.Debug("Executing node", "node_id", qm.NodeID)
			case "progress":
				qm := msg.ToPromptMessageProgress()
				if bar == nil {
					bar = progressbar.Default(int64(qm.Max), currentNodeTitle)
				}
				bar.Set(qm.Value)
			case "data":
				qm := msg.ToPromptMessageData()
				for k, v := range qm.Data {
					if k != "images" {
						continue
					}
					for _, output := range v {
						data, err := c.GetImage(output)
						if err != nil {
							return nil, fmt.Errorf("failed to get image: %w", err)
						}
						img, err := images.Decode(*data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode output %s: %w", output.Filename, err)
						}
						out = append(out, img)
					}
				}
			case "stopped":
				qm := msg.ToPromptMessageStopped()
				if qm.Exception != nil {
					return nil, fmt.Errorf("execution stopped with exception: %s: %s",
						qm.Exception.ExceptionType, qm.Exception.ExceptionMessage)
				}
				if len(out) == 0 {
					return nil, errors.New("no output images received")
				}
				return out, nil
			}
		}
	}
}

// FreeVRAM asks ComfyUI to unload models and release device memory. Called
// after every job so one client's generation never starves the next.
func (g *Generator) FreeVRAM(ctx context.Context) error {
	url := fmt.Sprintf("http://%s:%d/free", g.cfg.Url, g.cfg.Port)
	body := `{"unload_models": true, "free_memory": true}`
	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create free request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not send free request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("free request failed with status: %s", resp.Status)
	}

	logger.Info("Successfully sent free VRAM request to ComfyUI")
	return nil
}

// writeInputs drops the conditioning images into the ComfyUI input
// directory under fresh names and returns those names keyed by target.
func (g *Generator) writeInputs(req Request) (map[string]string, func(), error) {
	inputs := make(map[string]string)
	var written []string
	cleanup := func() {
		for _, path := range written {
			_ = os.Remove(path)
		}
	}

	for target, img := range map[string]stdimage.Image{
		targetBaseImage:  req.BaseImage,
		targetStyleImage: req.StyleImage,
		targetEdgeImage:  req.EdgeImage,
	} {
		if img == nil {
			cleanup()
			return nil, nil, fmt.Errorf("missing %s input image", target)
		}
		name := uuid.NewString() + ".png"
		path := filepath.Join(g.cfg.InputDir, name)
		f, err := os.Create(path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to write %s input: %w", target, err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			cleanup()
			return nil, nil, fmt.Errorf("failed to encode %s input: %w", target, err)
		}
		f.Close()
		written = append(written, path)
		inputs[target] = name
	}
	return inputs, cleanup, nil
}
