package settings

import (
	"stylebird/logger"
)

type (
	Config struct {
		Irc       IrcConfig       `toml:"irc" validate:"required"`
		Scheduler SchedulerConfig `toml:"scheduler" validate:"required"`
		ComfyUi   ComfyUiConfig   `toml:"comfyui" validate:"required"`
		Prompt    PromptConfig    `toml:"prompt" validate:"required"`
		OpenAI    OpenAIConfig    `toml:"openai"`
		Gemini    GeminiConfig    `toml:"gemini"`
		Birdhole  BirdholeConfig  `toml:"birdhole" validate:"required"`
		Store     StoreConfig     `toml:"store" validate:"required"`
		Params    ParamsConfig    `toml:"params"`
		Logging   logger.Config   `toml:"logging" validate:"required"`
	}

	IrcConfig struct {
		Server   string   `toml:"server" validate:"required"`
		Port     int      `toml:"port" validate:"required,gte=1"`
		Ssl      bool     `toml:"ssl"`
		Nick     string   `toml:"nick" validate:"required"`
		User     string   `toml:"user"`
		Pass     string   `toml:"pass"`
		Channels []string `toml:"channels" validate:"required,min=1"`
		Trigger  string   `toml:"trigger" validate:"required"`
	}

	SchedulerConfig struct {
		MaxQueueSize      int `toml:"maxQueueSize" validate:"gte=1"`
		AverageJobSeconds int `toml:"averageJobSeconds" validate:"gte=1"`
		PauseSeconds      int `toml:"pauseSeconds" validate:"gte=0"`
		JobTimeoutSeconds int `toml:"jobTimeoutSeconds" validate:"gte=0"`
	}

	// ComfyUiConfig describes the ComfyUI endpoint and which workflow nodes
	// receive the prompt, conditioning images and sampler parameters.
	ComfyUiConfig struct {
		Url          string                `toml:"url" validate:"required"`
		Port         int                   `toml:"port" validate:"required,gte=1"`
		WorkflowFile string                `toml:"workflowFile" validate:"required"`
		InputDir     string                `toml:"inputDir" validate:"required"`
		Targets      map[string]NodeTarget `toml:"targets" validate:"required,min=1,dive"`
	}

	// NodeTarget points at one widget of one node in the workflow graph.
	NodeTarget struct {
		Node   string `toml:"node" validate:"required"`
		Widget int    `toml:"widget" validate:"gte=0"`
	}

	PromptConfig struct {
		Provider string `toml:"provider" validate:"required,oneof=openai gemini"`
	}

	OpenAIConfig struct {
		ApiKey string `toml:"apiKey"`
		Url    string `toml:"url" validate:"omitempty,url"`
		Model  string `toml:"model"`
	}

	GeminiConfig struct {
		ApiKey string `toml:"apiKey"`
		Model  string `toml:"model"`
	}

	BirdholeConfig struct {
		Host        string `toml:"host" validate:"required"`
		Port        string `toml:"port" validate:"required"`
		EndPoint    string `toml:"endPoint" validate:"required"`
		Key         string `toml:"key" validate:"required"`
		UrlLen      int    `toml:"urlLen"`
		Expiry      int    `toml:"expiry"`
		Description string `toml:"description"`
	}

	StoreConfig struct {
		Path              string `toml:"path" validate:"required"`
		UploadExpiryHours int    `toml:"uploadExpiryHours" validate:"gte=1"`
	}

	// ParamsConfig holds the default value and allowed range for each
	// generation knob clients can adjust.
	ParamsConfig struct {
		Guidance     Bound `toml:"guidance"`
		Conditioning Bound `toml:"conditioning"`
		Steps        Bound `toml:"steps"`
		IpAdapter    Bound `toml:"ipAdapter"`
	}

	Bound struct {
		Default float64 `toml:"default"`
		Min     float64 `toml:"min"`
		Max     float64 `toml:"max"`
	}
)

// Clamp pins a value into the bound's range.
func (b Bound) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}
