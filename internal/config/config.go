// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração YAML do runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config representa a configuração completa do daemon lms.
type Config struct {
	Logging       LoggingInfo       `yaml:"logging"`
	Queues        QueueInfo         `yaml:"queues"`
	Scheduler     SchedulerInfo     `yaml:"scheduler"`
	Observability ObservabilityInfo `yaml:"observability"`
	Recorder      RecorderInfo      `yaml:"recorder"`
}

// LoggingInfo configura o logger global.
type LoggingInfo struct {
	Level  string `yaml:"level"`  // debug|info|warn|error (default: info)
	Format string `yaml:"format"` // json|text (default: json)
	File   string `yaml:"file"`   // vazio = apenas stdout
}

// QueueInfo configura profundidade e tamanho de frame das queues por tipo de mídia.
// A profundidade é fixada na construção da queue; o spec da stream decide o tipo.
type QueueInfo struct {
	AudioDepth int `yaml:"audio_depth"` // default: 8
	VideoDepth int `yaml:"video_depth"` // default: 16
	DataDepth  int `yaml:"data_depth"`  // default: 8

	AudioFrameBytes    string `yaml:"audio_frame_bytes"` // ex: "16kb" (default)
	VideoFrameBytes    string `yaml:"video_frame_bytes"` // ex: "1mb" (default)
	DataFrameBytes     string `yaml:"data_frame_bytes"`  // ex: "64kb" (default)
	AudioFrameBytesRaw int    `yaml:"-"`
	VideoFrameBytesRaw int    `yaml:"-"`
	DataFrameBytesRaw  int    `yaml:"-"`
}

// SchedulerInfo configura o comportamento dos workers.
type SchedulerInfo struct {
	// BackoffHint é o wake-delay aplicado quando um filtro não está pronto
	// (demand insatisfeito ou downstream cheio). Default: 1ms.
	BackoffHint time.Duration `yaml:"backoff_hint"`
	// MaxSleep limita o sleep de um worker sem runnables prontos, garantindo
	// que o run flag seja re-testado periodicamente. Default: 100ms.
	MaxSleep time.Duration `yaml:"max_sleep"`
}

// ObservabilityInfo configura o endpoint HTTP de observabilidade e o reporter.
type ObservabilityInfo struct {
	Enabled        bool   `yaml:"enabled"`         // default: false
	Listen         string `yaml:"listen"`          // default: "127.0.0.1:9590"
	EventsCapacity int    `yaml:"events_capacity"` // default: 200
	StatsSchedule  string `yaml:"stats_schedule"`  // cron spec (default: "@every 5m")
}

// RecorderInfo configura o sink de gravação em disco.
type RecorderInfo struct {
	Dir               string `yaml:"dir"`                // default: "recordings"
	MaxRecordings     int    `yaml:"max_recordings"`     // retenção por contagem (default: 10)
	RetentionBytes    string `yaml:"retention_bytes"`    // retenção por bytes totais (default: "1gb")
	RetentionBytesRaw int64  `yaml:"-"`
	SegmentBytes      string `yaml:"segment_bytes"` // corte de segmento (default: "128mb")
	SegmentBytesRaw   int64  `yaml:"-"`
	MinDiskFree       string `yaml:"min_disk_free"` // gate de disco (default: "500mb")
	MinDiskFreeRaw    int64  `yaml:"-"`
	CompressionLevel  int    `yaml:"compression_level"` // gzip 1..9 (default: 6)
	S3                S3Info `yaml:"s3"`
}

// S3Info configura o arquivamento opcional de gravações em S3.
type S3Info struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`   // vazio = AWS; preenchido para S3-compatível
	AccessKey string `yaml:"access_key"` // vazio = credential chain default
	SecretKey string `yaml:"secret_key"`
}

// Load lê e valida a configuração do caminho especificado.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default retorna uma configuração com todos os defaults aplicados,
// pronta para embedding sem arquivo YAML.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		// Defaults inválidos são um bug de programação, não um erro de runtime.
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Queues.AudioDepth == 0 {
		c.Queues.AudioDepth = 8
	}
	if c.Queues.VideoDepth == 0 {
		c.Queues.VideoDepth = 16
	}
	if c.Queues.DataDepth == 0 {
		c.Queues.DataDepth = 8
	}
	if c.Queues.AudioFrameBytes == "" {
		c.Queues.AudioFrameBytes = "16kb"
	}
	if c.Queues.VideoFrameBytes == "" {
		c.Queues.VideoFrameBytes = "1mb"
	}
	if c.Queues.DataFrameBytes == "" {
		c.Queues.DataFrameBytes = "64kb"
	}

	if c.Scheduler.BackoffHint == 0 {
		c.Scheduler.BackoffHint = time.Millisecond
	}
	if c.Scheduler.MaxSleep == 0 {
		c.Scheduler.MaxSleep = 100 * time.Millisecond
	}

	if c.Observability.Listen == "" {
		c.Observability.Listen = "127.0.0.1:9590"
	}
	if c.Observability.EventsCapacity == 0 {
		c.Observability.EventsCapacity = 200
	}
	if c.Observability.StatsSchedule == "" {
		c.Observability.StatsSchedule = "@every 5m"
	}

	if c.Recorder.Dir == "" {
		c.Recorder.Dir = "recordings"
	}
	if c.Recorder.MaxRecordings == 0 {
		c.Recorder.MaxRecordings = 10
	}
	if c.Recorder.SegmentBytes == "" {
		c.Recorder.SegmentBytes = "128mb"
	}
	if c.Recorder.RetentionBytes == "" {
		c.Recorder.RetentionBytes = "1gb"
	}
	if c.Recorder.MinDiskFree == "" {
		c.Recorder.MinDiskFree = "500mb"
	}
	if c.Recorder.CompressionLevel == 0 {
		c.Recorder.CompressionLevel = 6
	}
}

func (c *Config) validate() error {
	if c.Queues.AudioDepth < 2 || c.Queues.VideoDepth < 2 || c.Queues.DataDepth < 2 {
		return fmt.Errorf("config: queue depths must be at least 2 (audio=%d video=%d data=%d)",
			c.Queues.AudioDepth, c.Queues.VideoDepth, c.Queues.DataDepth)
	}

	var err error
	if c.Queues.AudioFrameBytesRaw, err = parseSizeInt(c.Queues.AudioFrameBytes); err != nil {
		return fmt.Errorf("config: audio_frame_bytes: %w", err)
	}
	if c.Queues.VideoFrameBytesRaw, err = parseSizeInt(c.Queues.VideoFrameBytes); err != nil {
		return fmt.Errorf("config: video_frame_bytes: %w", err)
	}
	if c.Queues.DataFrameBytesRaw, err = parseSizeInt(c.Queues.DataFrameBytes); err != nil {
		return fmt.Errorf("config: data_frame_bytes: %w", err)
	}
	if c.Recorder.SegmentBytesRaw, err = parseSize(c.Recorder.SegmentBytes); err != nil {
		return fmt.Errorf("config: segment_bytes: %w", err)
	}
	if c.Recorder.RetentionBytesRaw, err = parseSize(c.Recorder.RetentionBytes); err != nil {
		return fmt.Errorf("config: retention_bytes: %w", err)
	}
	if c.Recorder.MinDiskFreeRaw, err = parseSize(c.Recorder.MinDiskFree); err != nil {
		return fmt.Errorf("config: min_disk_free: %w", err)
	}

	if c.Recorder.CompressionLevel < 1 || c.Recorder.CompressionLevel > 9 {
		return fmt.Errorf("config: compression_level must be 1..9, got %d", c.Recorder.CompressionLevel)
	}
	if c.Recorder.S3.Enabled && c.Recorder.S3.Bucket == "" {
		return fmt.Errorf("config: s3.bucket is required when s3.enabled is true")
	}

	return nil
}

// parseSize converte tamanhos como "64kb", "2mb", "1gb" (ou bytes puros) em int64.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "kb"):
		mult = 1024
		s = strings.TrimSuffix(s, "kb")
	case strings.HasSuffix(s, "mb"):
		mult = 1024 * 1024
		s = strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "gb"):
		mult = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "gb")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %d", n)
	}
	return n * mult, nil
}

func parseSizeInt(s string) (int, error) {
	n, err := parseSize(s)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
