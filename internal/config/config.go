package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port              int           `env:"PORT" env-default:"8080"`
	MaxConcurrentRuns int64         `env:"MAX_CONCURRENT_RUNS" env-default:"8"`
	QueueWait         time.Duration `env:"QUEUE_WAIT" env-default:"5s"`
	MaxUploadBytes    int64         `env:"MAX_UPLOAD_BYTES" env-default:"52428800"`
	FFmpegPath        string        `env:"FFMPEG_PATH" env-default:"ffmpeg"`

	Pipeline Pipeline `env-prefix:"PIPELINE_"`
	Bhashini Bhashini `env-prefix:"BHASHINI_"`
	Gemini   Gemini   `env-prefix:"GEMINI_"`
}

// Pipeline holds the retry and deadline policy shared by both adapters.
type Pipeline struct {
	CallTimeout      time.Duration `env:"CALL_TIMEOUT" env-default:"60s"`
	MaxAttempts      int           `env:"MAX_ATTEMPTS" env-default:"3"`
	BackoffBase      time.Duration `env:"BACKOFF_BASE" env-default:"500ms"`
	BackoffFactor    float64       `env:"BACKOFF_FACTOR" env-default:"2"`
	BackoffMax       time.Duration `env:"BACKOFF_MAX" env-default:"8s"`
	BackoffJitter    float64       `env:"BACKOFF_JITTER" env-default:"0"`
	RequestDeadline  time.Duration `env:"REQUEST_DEADLINE" env-default:"150s"`
	TargetSampleRate int           `env:"TARGET_SAMPLE_RATE" env-default:"16000"`
}

type Bhashini struct {
	URL                  string `env:"URL" env-default:"https://dhruva-api.bhashini.gov.in/services/inference/pipeline"`
	AuthToken            string `env:"AUTH_TOKEN"`
	ASRServiceID         string `env:"ASR_SERVICE_ID" env-default:"bhashini/ai4bharat/conformer-multilingual-asr"`
	TranslationServiceID string `env:"TRANSLATION_SERVICE_ID" env-default:"ai4bharat/indictrans-v2-all-gpu--t4"`
}

type Gemini struct {
	BaseURL     string  `env:"BASE_URL" env-default:"https://generativelanguage.googleapis.com"`
	Model       string  `env:"MODEL" env-default:"gemini-2.0-flash"`
	APIKey      string  `env:"API_KEY"`
	Temperature float64 `env:"TEMPERATURE" env-default:"0.2"`
}

// Load reads the process environment into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for binaries that cannot start without configuration.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}
	return cfg
}

func (p Pipeline) Validate() error {
	switch {
	case p.CallTimeout <= 0:
		return fmt.Errorf("PIPELINE_CALL_TIMEOUT must be positive")
	case p.MaxAttempts < 1:
		return fmt.Errorf("PIPELINE_MAX_ATTEMPTS must be at least 1")
	case p.BackoffBase <= 0:
		return fmt.Errorf("PIPELINE_BACKOFF_BASE must be positive")
	case p.BackoffFactor < 1:
		return fmt.Errorf("PIPELINE_BACKOFF_FACTOR must be >= 1")
	case p.BackoffMax < p.BackoffBase:
		return fmt.Errorf("PIPELINE_BACKOFF_MAX must be >= PIPELINE_BACKOFF_BASE")
	case p.BackoffJitter < 0 || p.BackoffJitter >= 1:
		return fmt.Errorf("PIPELINE_BACKOFF_JITTER must be in [0, 1)")
	case p.RequestDeadline <= 0:
		return fmt.Errorf("PIPELINE_REQUEST_DEADLINE must be positive")
	case p.TargetSampleRate <= 0:
		return fmt.Errorf("PIPELINE_TARGET_SAMPLE_RATE must be positive")
	}
	return nil
}
