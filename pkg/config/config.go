// Package config loads and validates zimdict configuration via Viper.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// ErrInvalid marks configuration validation failures so callers can map them
// to the config-error exit code.
var ErrInvalid = errors.New("invalid configuration")

// Config captures every knob the converter reads, grouped by subsystem.
type Config struct {
	Input      InputConfig      `mapstructure:"input" json:"input"`
	Selection  SelectionConfig  `mapstructure:"selection" json:"selection"`
	Extraction ExtractionConfig `mapstructure:"extraction" json:"extraction"`
	Workers    WorkerConfig     `mapstructure:"workers" json:"workers"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite" json:"sqlite"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" json:"checkpoint"`
	Reindex    ReindexConfig    `mapstructure:"reindex" json:"reindex"`
	Export     ExportConfig     `mapstructure:"export" json:"export"`
	Release    ReleaseConfig    `mapstructure:"release" json:"release"`
	Logging    LoggingConfig    `mapstructure:"logging" json:"logging"`
}

// InputConfig points at the archive and the database it becomes.
type InputConfig struct {
	ZIMPath    string `mapstructure:"zim_path" json:"zim_path"`
	SQLitePath string `mapstructure:"sqlite_path" json:"sqlite_path"`
}

// SelectionConfig decides which directory entries enter the pipeline.
type SelectionConfig struct {
	StartIndex          uint32   `mapstructure:"start_index" json:"start_index"`
	MaxEntries          uint32   `mapstructure:"max_entries" json:"max_entries"` // 0 = unlimited
	IncludeNamespaces   []string `mapstructure:"include_namespaces" json:"include_namespaces"`
	IncludeURLPrefixes  []string `mapstructure:"include_url_prefixes" json:"include_url_prefixes"`
	ExcludeURLPrefixes  []string `mapstructure:"exclude_url_prefixes" json:"exclude_url_prefixes"`
	IncludeMimePrefixes []string `mapstructure:"include_mime_prefixes" json:"include_mime_prefixes"`
	ExcludeTitlePrefix  []string `mapstructure:"exclude_title_prefixes" json:"exclude_title_prefixes"`
	SkipRedirects       bool     `mapstructure:"skip_redirects" json:"skip_redirects"`
	RequireTitle        bool     `mapstructure:"require_title" json:"require_title"`
}

// ExtractionConfig controls the Wiktionary HTML extractor.
type ExtractionConfig struct {
	LanguageAllowlist          []string          `mapstructure:"language_allowlist" json:"language_allowlist"`
	ExtraPOSLabels             []string          `mapstructure:"extra_pos_labels" json:"extra_pos_labels"`
	MaxDefinitionsPerLanguage  int               `mapstructure:"max_definitions_per_language" json:"max_definitions_per_language"`
	MaxSenseDepth              int               `mapstructure:"max_sense_depth" json:"max_sense_depth"`
	MinDefinitionChars         int               `mapstructure:"min_definition_chars" json:"min_definition_chars"`
	ConfidenceThreshold        float64           `mapstructure:"confidence_threshold" json:"confidence_threshold"`
	EmitSynonyms               bool              `mapstructure:"emit_synonyms" json:"emit_synonyms"`
	EmitAntonyms               bool              `mapstructure:"emit_antonyms" json:"emit_antonyms"`
	EmitTranslations           bool              `mapstructure:"emit_translations" json:"emit_translations"`
	TaskTimeoutMs              int               `mapstructure:"task_timeout_ms" json:"task_timeout_ms"`
	StoreRawHTML               bool              `mapstructure:"store_raw_html" json:"store_raw_html"`
	AliasMinLength             int               `mapstructure:"alias_min_length" json:"alias_min_length"`
	LanguageNormalizers        map[string]string `mapstructure:"language_normalizers" json:"language_normalizers"`
	MaxRelationTargetsPerList  int               `mapstructure:"max_relation_targets_per_list" json:"max_relation_targets_per_list"`
}

// WorkerConfig sizes the extraction worker pool.
type WorkerConfig struct {
	ExtractionThreads int `mapstructure:"extraction_threads" json:"extraction_threads"`
	QueueCapacity     int `mapstructure:"queue_capacity" json:"queue_capacity"`
}

// SQLiteConfig carries write batching and PRAGMA settings.
type SQLiteConfig struct {
	BatchSize     int    `mapstructure:"batch_size" json:"batch_size"`
	BatchFlushMs  int    `mapstructure:"batch_flush_ms" json:"batch_flush_ms"`
	CacheSizeKiB  int64  `mapstructure:"cache_size_kib" json:"cache_size_kib"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms" json:"busy_timeout_ms"`
	JournalMode   string `mapstructure:"journal_mode" json:"journal_mode"`
	Synchronous   string `mapstructure:"synchronous" json:"synchronous"`
	TempStore     string `mapstructure:"temp_store" json:"temp_store"`
	Overwrite     bool   `mapstructure:"overwrite" json:"overwrite"`
	EnableFTS     bool   `mapstructure:"enable_fts" json:"enable_fts"`
}

// CheckpointConfig names the resume watermark.
type CheckpointConfig struct {
	Enabled           bool   `mapstructure:"enabled" json:"enabled"`
	Resume            bool   `mapstructure:"resume" json:"resume"`
	Name              string `mapstructure:"name" json:"name"`
	FlushEveryEntries uint64 `mapstructure:"flush_every_entries" json:"flush_every_entries"`
}

// ReindexConfig controls the incremental FTS reindexer.
type ReindexConfig struct {
	Name            string `mapstructure:"name" json:"name"`
	BatchSize       int    `mapstructure:"batch_size" json:"batch_size"`
	AutoIncremental bool   `mapstructure:"auto_incremental" json:"auto_incremental"`
}

// ExportConfig shapes export-json output.
type ExportConfig struct {
	Pretty         bool `mapstructure:"pretty" json:"pretty"`
	IncludeRawHTML bool `mapstructure:"include_raw_html" json:"include_raw_html"`
	JSONLines      bool `mapstructure:"json_lines" json:"json_lines"`
	BatchSize      int  `mapstructure:"batch_size" json:"batch_size"`
}

// ReleaseConfig controls sample-db and build-artifacts outputs.
type ReleaseConfig struct {
	ArtifactDir  string `mapstructure:"artifact_dir" json:"artifact_dir"`
	SampleDBName string `mapstructure:"sample_db_name" json:"sample_db_name"`
	SamplePages  int    `mapstructure:"sample_pages" json:"sample_pages"`
}

// LoggingConfig selects the logger level and encoding.
type LoggingConfig struct {
	Level            string `mapstructure:"level" json:"level"`
	JSON             bool   `mapstructure:"json" json:"json"`
	ProgressInterval uint64 `mapstructure:"progress_interval" json:"progress_interval"`
}

// Load builds a Config from an optional TOML file plus environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZIMDICT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config %s: %v", ErrInvalid, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.zim_path", "tmp/wiktionary_en_all_nopic.zim")
	v.SetDefault("input.sqlite_path", "out/wiktionary.sqlite")

	v.SetDefault("selection.start_index", 0)
	v.SetDefault("selection.max_entries", 0)
	v.SetDefault("selection.include_namespaces", []string{"A"})
	v.SetDefault("selection.include_url_prefixes", []string{})
	v.SetDefault("selection.exclude_url_prefixes", []string{"Special:", "Wiktionary:"})
	v.SetDefault("selection.include_mime_prefixes", []string{"text/html"})
	v.SetDefault("selection.exclude_title_prefixes", []string{"Appendix:", "Reconstruction:"})
	v.SetDefault("selection.skip_redirects", false)
	v.SetDefault("selection.require_title", true)

	v.SetDefault("extraction.language_allowlist", []string{})
	v.SetDefault("extraction.extra_pos_labels", []string{})
	v.SetDefault("extraction.max_definitions_per_language", 64)
	v.SetDefault("extraction.max_sense_depth", 3)
	v.SetDefault("extraction.min_definition_chars", 1)
	v.SetDefault("extraction.confidence_threshold", 0.2)
	v.SetDefault("extraction.emit_synonyms", true)
	v.SetDefault("extraction.emit_antonyms", true)
	v.SetDefault("extraction.emit_translations", true)
	v.SetDefault("extraction.task_timeout_ms", 5000)
	v.SetDefault("extraction.store_raw_html", false)
	v.SetDefault("extraction.alias_min_length", 2)
	v.SetDefault("extraction.language_normalizers", map[string]string{})
	v.SetDefault("extraction.max_relation_targets_per_list", 48)

	v.SetDefault("workers.extraction_threads", runtime.NumCPU())
	v.SetDefault("workers.queue_capacity", 16384)

	v.SetDefault("sqlite.batch_size", 2000)
	v.SetDefault("sqlite.batch_flush_ms", 200)
	v.SetDefault("sqlite.cache_size_kib", 65536)
	v.SetDefault("sqlite.busy_timeout_ms", 5000)
	v.SetDefault("sqlite.journal_mode", "WAL")
	v.SetDefault("sqlite.synchronous", "NORMAL")
	v.SetDefault("sqlite.temp_store", "MEMORY")
	v.SetDefault("sqlite.overwrite", false)
	v.SetDefault("sqlite.enable_fts", true)

	v.SetDefault("checkpoint.enabled", true)
	v.SetDefault("checkpoint.resume", true)
	v.SetDefault("checkpoint.name", "default")
	v.SetDefault("checkpoint.flush_every_entries", 10000)

	v.SetDefault("reindex.name", "default")
	v.SetDefault("reindex.batch_size", 5000)
	v.SetDefault("reindex.auto_incremental", false)

	v.SetDefault("export.pretty", false)
	v.SetDefault("export.include_raw_html", false)
	v.SetDefault("export.json_lines", true)
	v.SetDefault("export.batch_size", 2000)

	v.SetDefault("release.artifact_dir", "dist")
	v.SetDefault("release.sample_db_name", "wiktionary_sample.sqlite")
	v.SetDefault("release.sample_pages", 500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.progress_interval", 1000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Input.ZIMPath == "" {
		return fmt.Errorf("%w: input.zim_path must be set", ErrInvalid)
	}
	if c.Input.SQLitePath == "" {
		return fmt.Errorf("%w: input.sqlite_path must be set", ErrInvalid)
	}
	if c.Workers.ExtractionThreads <= 0 {
		return fmt.Errorf("%w: workers.extraction_threads must be > 0", ErrInvalid)
	}
	if c.Workers.QueueCapacity <= 0 {
		return fmt.Errorf("%w: workers.queue_capacity must be > 0", ErrInvalid)
	}
	if c.SQLite.BatchSize <= 0 {
		return fmt.Errorf("%w: sqlite.batch_size must be > 0", ErrInvalid)
	}
	if c.Extraction.ConfidenceThreshold < 0 || c.Extraction.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: extraction.confidence_threshold must be in [0,1]", ErrInvalid)
	}
	if c.Extraction.MaxSenseDepth <= 0 {
		return fmt.Errorf("%w: extraction.max_sense_depth must be > 0", ErrInvalid)
	}
	if c.Checkpoint.Enabled && c.Checkpoint.Name == "" {
		return fmt.Errorf("%w: checkpoint.name must be set when checkpointing is enabled", ErrInvalid)
	}
	if c.Reindex.BatchSize <= 0 {
		return fmt.Errorf("%w: reindex.batch_size must be > 0", ErrInvalid)
	}
	switch strings.ToUpper(c.SQLite.JournalMode) {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		return fmt.Errorf("%w: sqlite.journal_mode %q is not a SQLite journal mode", ErrInvalid, c.SQLite.JournalMode)
	}
	return nil
}

// Digest returns a stable hex digest of the configuration, recorded on each
// ingestion run so resumed runs can be checked against the original settings.
func (c Config) Digest() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
