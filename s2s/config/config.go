package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/seq2seq-encoder/s2s"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/encoder"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/tokenizer"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Data      DataConfig      `mapstructure:"data"`
	Encoding  EncodingConfig  `mapstructure:"encoding"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Store     StoreConfig     `mapstructure:"store"`
}

// DataConfig locates the line-aligned corpus files.
type DataConfig struct {
	Task string `mapstructure:"task"`
	Dir  string `mapstructure:"dir"`
}

// EncodingConfig stores the sample shape and worker settings.
type EncodingConfig struct {
	MaxSourceLength int    `mapstructure:"maxSourceLength"`
	MaxTargetLength int    `mapstructure:"maxTargetLength"`
	MaskKind        string `mapstructure:"maskKind"`
	PromptText      string `mapstructure:"promptText"`
	Workers         int    `mapstructure:"workers"`
}

// TokenizerConfig selects the tokenizer backend ("vocab" or "sugarme").
type TokenizerConfig struct {
	Kind      string            `mapstructure:"kind"`
	VocabPath string            `mapstructure:"vocabPath"`
	Lowercase bool              `mapstructure:"lowercase"`
	Specials  map[string]string `mapstructure:"specials"`
}

// SpecialTokens merges the configured overrides into the default special token
// table. Viper lowercases map keys, so names are matched case-insensitively.
func (t TokenizerConfig) SpecialTokens() map[string]string {
	out := tokenizer.DefaultSpecialTokens()
	for name := range out {
		for key, tok := range t.Specials {
			if strings.EqualFold(key, name) && tok != "" {
				out[name] = tok
			}
		}
	}
	return out
}

// StoreConfig stores persistence locations for encoded runs.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// EncoderConfig converts to the encoder configuration for a split. Only the
// train split carries targets.
func (c *Config) EncoderConfig(split string) (encoder.Config, error) {
	kind, err := encoder.ParseMaskKind(c.Encoding.MaskKind)
	if err != nil {
		return encoder.Config{}, err
	}
	mode := encoder.Eval
	if split == "train" {
		mode = encoder.Train
	}
	return encoder.Config{
		MaxSourceLength: c.Encoding.MaxSourceLength,
		MaxTargetLength: c.Encoding.MaxTargetLength,
		Mode:            mode,
		MaskKind:        kind,
	}, nil
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("data.task", "")
	v.SetDefault("data.dir", ".")
	v.SetDefault("encoding.maxSourceLength", internal.DefaultMaxSourceLength)
	v.SetDefault("encoding.maxTargetLength", internal.DefaultMaxTargetLength)
	v.SetDefault("encoding.maskKind", internal.DefaultMaskKind)
	v.SetDefault("encoding.promptText", encoder.DefaultPromptText)
	v.SetDefault("encoding.workers", internal.DefaultWorkers)
	v.SetDefault("tokenizer.kind", internal.DefaultTokenizerKind)
	v.SetDefault("tokenizer.vocabPath", "vocab.txt")
	v.SetDefault("tokenizer.lowercase", false)
	v.SetDefault("store.dsn", "file:"+internal.DefaultStorePath)

	v.AutomaticEnv()                                   // e.g. ENCODING_MAXSOURCELENGTH
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // dots become underscores

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	AppConfig = cfg

	return &cfg, nil
}
