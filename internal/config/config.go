// Package config holds the process-wide, read-only settings of the router:
// vendor endpoints and model catalogues, image store settings and timeouts.
package config

import "time"

// Config is loaded once at startup and never mutated afterwards.
type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Log          LogConfig         `yaml:"log"`
	Timeouts     TimeoutConfig     `yaml:"timeouts"`
	ImageStore   ImageStoreConfig  `yaml:"image_store"`
	TrustedHosts []string          `yaml:"trusted_hosts"`
	VolcEngine   VolcEngineConfig  `yaml:"volcengine"`
	Gitee        GiteeConfig       `yaml:"gitee"`
	ModelScope   ModelScopeConfig  `yaml:"modelscope"`
	HuggingFace  HuggingFaceConfig `yaml:"huggingface"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// ConversionConcurrency bounds parallel image conversions per request.
	ConversionConcurrency int `yaml:"conversion_concurrency"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type TimeoutConfig struct {
	API    time.Duration `yaml:"api"`
	Fetch  time.Duration `yaml:"fetch"`
	Upload time.Duration `yaml:"upload"`
}

// Catalog describes the models a vendor accepts. Generation and edit lists
// are looked up independently; the first edit model is the edit fallback.
type Catalog struct {
	Models          []string `yaml:"models"`
	DefaultModel    string   `yaml:"default_model"`
	EditModels      []string `yaml:"edit_models"`
	DefaultSize     string   `yaml:"default_size"`
	DefaultEditSize string   `yaml:"default_edit_size"`
}

// PollConfig fixes the poll budget of an asynchronous vendor.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type VolcEngineConfig struct {
	BaseURL string  `yaml:"base_url"`
	Catalog Catalog `yaml:"catalog"`
}

type GiteeConfig struct {
	BaseURL              string     `yaml:"base_url"`
	Catalog              Catalog    `yaml:"catalog"`
	AsyncEditModels      []string   `yaml:"async_edit_models"`
	DefaultAsyncEditSize string     `yaml:"default_async_edit_size"`
	Poll                 PollConfig `yaml:"poll"`
}

type ModelScopeConfig struct {
	BaseURL string     `yaml:"base_url"`
	Catalog Catalog    `yaml:"catalog"`
	Poll    PollConfig `yaml:"poll"`
}

type HuggingFaceConfig struct {
	// GenerationPool and EditPool are Gradio Space base URLs, tried in order.
	GenerationPool []string   `yaml:"generation_pool"`
	EditPool       []string   `yaml:"edit_pool"`
	GenerationFn   string     `yaml:"generation_fn"`
	EditFn         string     `yaml:"edit_fn"`
	Catalog        Catalog    `yaml:"catalog"`
	Poll           PollConfig `yaml:"poll"`
}

type ImageStoreConfig struct {
	// Kind selects the backend: "imgbed" or "s3".
	Kind   string       `yaml:"kind"`
	ImgBed ImgBedConfig `yaml:"imgbed"`
	S3     S3Config     `yaml:"s3"`
}

type ImgBedConfig struct {
	BaseURL  string `yaml:"base_url"`
	AuthCode string `yaml:"auth_code"`
	Folder   string `yaml:"folder"`
	Channel  string `yaml:"channel"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	// PublicBaseURL is prepended to object keys to form the returned URL.
	PublicBaseURL string `yaml:"public_base_url"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Port: 10001, ConversionConcurrency: 4},
		Log:    LogConfig{Level: "info"},
		Timeouts: TimeoutConfig{
			API:    300 * time.Second,
			Fetch:  30 * time.Second,
			Upload: 60 * time.Second,
		},
		ImageStore: ImageStoreConfig{
			Kind: "imgbed",
			ImgBed: ImgBedConfig{
				BaseURL: "https://imgbed.lianwusuoai.top",
				Folder:  "img-router",
				Channel: "s3",
			},
		},
		TrustedHosts: []string{
			"volces.com",
			"volccdn.com",
			"ai.gitee.com",
			"gitee.com",
			"modelscope.cn",
			"hf.space",
			"huggingface.co",
		},
		VolcEngine: VolcEngineConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			// Seedream serves generation and edits with the same models.
			Catalog: Catalog{
				Models:          []string{"doubao-seedream-4-5-251128", "doubao-seedream-4-0-250828"},
				DefaultModel:    "doubao-seedream-4-5-251128",
				EditModels:      []string{"doubao-seedream-4-5-251128", "doubao-seedream-4-0-250828"},
				DefaultSize:     "2K",
				DefaultEditSize: "2K",
			},
		},
		Gitee: GiteeConfig{
			BaseURL: "https://ai.gitee.com/v1",
			Catalog: Catalog{
				Models:       []string{"z-image-turbo"},
				DefaultModel: "z-image-turbo",
				EditModels: []string{
					"Qwen-Image-Edit",
					"HiDream-E1-Full",
					"FLUX.1-dev",
					"FLUX.2-dev",
					"FLUX.1-Kontext-dev",
					"HelloMeme",
					"Kolors",
					"OmniConsistency",
					"InstantCharacter",
					"DreamO",
					"LongCat-Image-Edit",
					"AnimeSharp",
				},
				DefaultSize:     "2048x2048",
				DefaultEditSize: "1024x1024",
			},
			AsyncEditModels:      []string{"Qwen-Image-Edit-2511", "LongCat-Image-Edit", "FLUX.1-Kontext-dev"},
			DefaultAsyncEditSize: "2048x2048",
			Poll:                 PollConfig{Interval: 3 * time.Second, MaxAttempts: 100},
		},
		ModelScope: ModelScopeConfig{
			BaseURL: "https://api-inference.modelscope.cn/v1",
			Catalog: Catalog{
				Models:          []string{"Tongyi-MAI/Z-Image-Turbo"},
				DefaultModel:    "Tongyi-MAI/Z-Image-Turbo",
				EditModels:      []string{"Qwen/Qwen-Image-Edit-2511"},
				DefaultSize:     "1024x1024",
				DefaultEditSize: "1328x1328",
			},
			Poll: PollConfig{Interval: 5 * time.Second, MaxAttempts: 60},
		},
		HuggingFace: HuggingFaceConfig{
			GenerationPool: []string{
				"https://luca115-z-image-turbo.hf.space",
				"https://linoyts-z-image-portrait.hf.space",
				"https://prokofyev8-z-image-portrait.hf.space",
				"https://yingzhac-z-image-nsfw.hf.space",
			},
			EditPool:     []string{"https://lenml-qwen-image-edit-2511-fast.hf.space"},
			GenerationFn: "generate_image",
			EditFn:       "infer",
			Catalog: Catalog{
				Models:          []string{"z-image-turbo"},
				DefaultModel:    "z-image-turbo",
				EditModels:      []string{"Qwen-Image-Edit-2511"},
				DefaultSize:     "1024x1024",
				DefaultEditSize: "1024x1024",
			},
			Poll: PollConfig{Interval: 2 * time.Second, MaxAttempts: 5},
		},
	}
}
