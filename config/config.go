// Package config loads the YAML configuration shared by every command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"pcosdx/ml"
	"pcosdx/pipeline"
)

type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	Training TrainingConfig `yaml:"training"`
	Model    ModelConfig    `yaml:"model"`
	Http     HttpConfig     `yaml:"http"`
	Database struct {
		// Path of the SQLite audit store; empty disables it.
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log LogConfig `yaml:"log"`
}

type DatasetConfig struct {
	Path         string   `yaml:"path"`
	Sheet        string   `yaml:"sheet"`
	LabelColumn  string   `yaml:"label_column"`
	IDSubstrings []string `yaml:"id_substrings"`
	Sentinel     string   `yaml:"sentinel"`
	Encoding     string   `yaml:"encoding"`
}

type TrainingConfig struct {
	Seed            int64   `yaml:"seed"`
	TestRatio       float64 `yaml:"test_ratio"`
	NEstimators     int     `yaml:"n_estimators"`
	MaxDepth        int     `yaml:"max_depth"`
	MinSamplesSplit int     `yaml:"min_samples_split"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf"`
	MaxFeatures     int     `yaml:"max_features"`
	ImportanceChart string  `yaml:"importance_chart"`
}

type ModelConfig struct {
	ArtifactPath string `yaml:"artifact_path"`
	Watch        bool   `yaml:"watch"`
	CacheSize    int    `yaml:"cache_size"`
}

type HttpConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	// StreamInterval is how often /api/stream pushes a metrics snapshot;
	// zero pushes prediction events only.
	StreamInterval time.Duration `yaml:"stream_interval"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	prep := pipeline.DefaultPrepareConfig()
	train := ml.DefaultTrainConfig()

	cfg := &Config{}
	cfg.Dataset = DatasetConfig{
		Path:         "data/PCOS_data_without_infertility.xlsx",
		Sheet:        "Full_new",
		LabelColumn:  prep.LabelColumn,
		IDSubstrings: prep.IDSubstrings,
		Sentinel:     prep.Sentinel,
	}
	cfg.Training = TrainingConfig{
		Seed:            train.Seed,
		TestRatio:       train.TestRatio,
		NEstimators:     train.NEstimators,
		MinSamplesSplit: train.MinSamplesSplit,
		MinSamplesLeaf:  train.MinSamplesLeaf,
	}
	cfg.Model = ModelConfig{ArtifactPath: "models/pcos_model.json", CacheSize: 256}
	cfg.Http = HttpConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		StreamInterval: 5 * time.Second,
	}
	cfg.Log = LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28}
	return cfg
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Dataset.LabelColumn == "" {
		return errors.New("dataset.label_column is required")
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training.test_ratio must be in (0, 1), got %g", c.Training.TestRatio)
	}
	if c.Training.NEstimators < 1 {
		return fmt.Errorf("training.n_estimators must be positive, got %d", c.Training.NEstimators)
	}
	if c.Training.MaxDepth < 0 || c.Training.MaxFeatures < 0 {
		return errors.New("training.max_depth and training.max_features must not be negative")
	}
	if c.Training.MinSamplesSplit < 2 {
		return fmt.Errorf("training.min_samples_split must be at least 2, got %d", c.Training.MinSamplesSplit)
	}
	if c.Training.MinSamplesLeaf < 1 {
		return fmt.Errorf("training.min_samples_leaf must be at least 1, got %d", c.Training.MinSamplesLeaf)
	}
	if c.Model.ArtifactPath == "" {
		return errors.New("model.artifact_path is required")
	}
	if c.Model.CacheSize < 0 {
		return errors.New("model.cache_size must not be negative")
	}
	if c.Http.Port < 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.Http.Port)
	}
	return nil
}

// PrepareConfig maps the dataset section onto the preparer's settings.
func (c *Config) PrepareConfig() pipeline.PrepareConfig {
	return pipeline.PrepareConfig{
		LabelColumn:  c.Dataset.LabelColumn,
		IDSubstrings: c.Dataset.IDSubstrings,
		Sentinel:     c.Dataset.Sentinel,
	}
}

func (c *Config) IngestionConfig() pipeline.IngestionConfig {
	return pipeline.IngestionConfig{Sheet: c.Dataset.Sheet, Encoding: c.Dataset.Encoding}
}

func (c *Config) TrainConfig() ml.TrainConfig {
	return ml.TrainConfig{
		Seed:            c.Training.Seed,
		TestRatio:       c.Training.TestRatio,
		NEstimators:     c.Training.NEstimators,
		MaxDepth:        c.Training.MaxDepth,
		MinSamplesSplit: c.Training.MinSamplesSplit,
		MinSamplesLeaf:  c.Training.MinSamplesLeaf,
		MaxFeatures:     c.Training.MaxFeatures,
	}
}
