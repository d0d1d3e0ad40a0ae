package config

import (
	"os"
	"path/filepath"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/iCMLab/stranding/pkg/seqref"
	"github.com/iCMLab/stranding/pkg/stranding"
)

// FileName is the name of the project configuration file
const FileName = "stranding.toml"

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" toml:"level" usage:"Log level (debug, info, warn, error)"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
	Reference struct {
		DataDir  string `toml:"data_dir" usage:"Directory with the reference sequences (defaults to $SEQSEEK_DATA_DIR or ~/.seqseek)"`
		Build    string `default:"GRCh37" toml:"build" usage:"Default reference assembly"`
		Manifest string `default:"reference.yml" toml:"manifest" usage:"Manifest listing the downloadable reference files"`
	} `toml:"reference"`
	Stranding struct {
		MinFlankLength  int     `default:"15" toml:"min_flank_length"`
		Tolerance       float64 `default:"0.77" toml:"tolerance"`
		MatchScore      int     `default:"2" toml:"match_score"`
		MismatchPenalty int     `default:"-1" toml:"mismatch_penalty"`
		GapOpenPenalty  int     `default:"-5" toml:"gap_open_penalty"`
		Window          int     `default:"0" toml:"window"`
	} `toml:"stranding"`
	Release struct {
		Remote      string `default:"origin" toml:"remote" usage:"Remote the release tags are pushed to"`
		TagPrefix   string `default:"v" toml:"tag_prefix" usage:"Prefix for release tags"`
		VersionFile string `default:"VERSION" toml:"version_file" usage:"File containing the package version"`
		Binary      string `default:"stranding" toml:"binary" usage:"Installed binary whose build metadata carries the version"`
		Name        string `default:"stranding" toml:"name" usage:"Package name used for source archives"`
	} `toml:"release"`
	Clean struct {
		Paths    []string `default:"build,dist,coverage.out,.task-cache" toml:"paths"`
		Patterns []string `default:"*.test,*.prof,*.orig" toml:"patterns"`
	} `toml:"clean"`
	Batch struct {
		Workers int `default:"4" toml:"workers"`
	} `toml:"batch"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Missing config files are skipped.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "STRANDING",
		Files:     existing,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the configuration from projectRoot/stranding.toml and the environment
func Load(projectRoot string) (*Config, error) {
	cfg, loader := Loader(filepath.Join(projectRoot, FileName))
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load configuration")
	}

	if cfg.Reference.DataDir == "" {
		cfg.Reference.DataDir = seqref.DefaultDataDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Stranding.Tolerance <= 0 || cfg.Stranding.Tolerance > 1 {
		return eris.Errorf(`Invalid value for stranding.tolerance: %f (must be in (0, 1])`, cfg.Stranding.Tolerance)
	}

	if cfg.Stranding.MatchScore <= 0 {
		return eris.Errorf(`Invalid value for stranding.match_score: %d (must be positive)`, cfg.Stranding.MatchScore)
	}

	if cfg.Stranding.Window < 0 {
		return eris.Errorf(`Invalid value for stranding.window: %d`, cfg.Stranding.Window)
	}

	if cfg.Batch.Workers < 1 {
		return eris.Errorf(`Invalid value for batch.workers: %d`, cfg.Batch.Workers)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// StrandingParams returns the alignment parameters
func (cfg *Config) StrandingParams() stranding.Params {
	return stranding.Params{
		MinFlankLength:  cfg.Stranding.MinFlankLength,
		Tolerance:       cfg.Stranding.Tolerance,
		MatchScore:      cfg.Stranding.MatchScore,
		MismatchPenalty: cfg.Stranding.MismatchPenalty,
		GapOpenPenalty:  cfg.Stranding.GapOpenPenalty,
	}
}
