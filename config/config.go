// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const (
	BackendLibFM = "libfm"
	BackendFM    = "fm"
)

// Config is the configuration of evaluation runs.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Source    SourceConfig    `mapstructure:"source"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Output    OutputConfig    `mapstructure:"output"`
}

// EngineConfig is the configuration of the scoring engine.
type EngineConfig struct {
	Backend   string        `mapstructure:"backend" validate:"oneof=libfm fm"`
	LibFMPath string        `mapstructure:"libfm_path"`
	Method    string        `mapstructure:"method" validate:"omitempty,oneof=sgd sgda als mcmc"`
	NFactors  int           `mapstructure:"n_factors" validate:"gte=1"`
	Jobs      int           `mapstructure:"jobs" validate:"gte=1"`
	NEpochs   int           `mapstructure:"n_epochs" validate:"gte=1"`
	Lr        float64       `mapstructure:"lr" validate:"gt=0"`
	Reg       float64       `mapstructure:"reg" validate:"gte=0"`
	InitStd   float64       `mapstructure:"init_std" validate:"gte=0"`
	Seed      int64         `mapstructure:"seed"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// SourceConfig locates observations, either a CSV file or a database table.
type SourceConfig struct {
	CSVPath           string `mapstructure:"csv_path"`
	CSVSep            string `mapstructure:"csv_sep" validate:"len=1"`
	CSVHeader         bool   `mapstructure:"csv_header"`
	UserColumn        int    `mapstructure:"user_column" validate:"gte=0"`
	ItemColumn        int    `mapstructure:"item_column" validate:"gte=0"`
	CategoryPath      string `mapstructure:"category_path"`
	Database          string `mapstructure:"database"`
	Table             string `mapstructure:"table" validate:"required_with=Database"`
	UserField         string `mapstructure:"user_field" validate:"required_with=Database"`
	ItemField         string `mapstructure:"item_field" validate:"required_with=Database"`
	CategoryTable     string `mapstructure:"category_table"`
	CategoryItemField string `mapstructure:"category_item_field" validate:"required_with=CategoryTable"`
	CategoryField     string `mapstructure:"category_field" validate:"required_with=CategoryTable"`
}

// RecommendConfig is the configuration of recommendation lists.
type RecommendConfig struct {
	TopN       int  `mapstructure:"top_n" validate:"gte=0"`
	ByCategory bool `mapstructure:"by_category"`
}

// OutputConfig is the configuration of outputs.
type OutputConfig struct {
	Path        string `mapstructure:"path"`
	Redis       string `mapstructure:"redis" validate:"omitempty,startswith=redis://|startswith=rediss://"`
	MetricsPath string `mapstructure:"metrics_path"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Backend:   BackendLibFM,
			LibFMPath: "libFM",
			NFactors:  8,
			Jobs:      1,
			NEpochs:   100,
			Lr:        0.01,
			Reg:       0.02,
			InitStd:   0.1,
		},
		Source: SourceConfig{
			CSVSep:     ",",
			CSVHeader:  true,
			UserColumn: 0,
			ItemColumn: 1,
		},
		Recommend: RecommendConfig{
			TopN: 10,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [engine]
	v.SetDefault("engine.backend", defaultConfig.Engine.Backend)
	v.SetDefault("engine.libfm_path", defaultConfig.Engine.LibFMPath)
	v.SetDefault("engine.method", defaultConfig.Engine.Method)
	v.SetDefault("engine.n_factors", defaultConfig.Engine.NFactors)
	v.SetDefault("engine.jobs", defaultConfig.Engine.Jobs)
	v.SetDefault("engine.n_epochs", defaultConfig.Engine.NEpochs)
	v.SetDefault("engine.lr", defaultConfig.Engine.Lr)
	v.SetDefault("engine.reg", defaultConfig.Engine.Reg)
	v.SetDefault("engine.init_std", defaultConfig.Engine.InitStd)
	v.SetDefault("engine.seed", defaultConfig.Engine.Seed)
	v.SetDefault("engine.timeout", defaultConfig.Engine.Timeout)
	// [source]
	v.SetDefault("source.csv_path", defaultConfig.Source.CSVPath)
	v.SetDefault("source.csv_sep", defaultConfig.Source.CSVSep)
	v.SetDefault("source.csv_header", defaultConfig.Source.CSVHeader)
	v.SetDefault("source.user_column", defaultConfig.Source.UserColumn)
	v.SetDefault("source.item_column", defaultConfig.Source.ItemColumn)
	v.SetDefault("source.category_path", defaultConfig.Source.CategoryPath)
	v.SetDefault("source.database", defaultConfig.Source.Database)
	v.SetDefault("source.table", defaultConfig.Source.Table)
	v.SetDefault("source.user_field", defaultConfig.Source.UserField)
	v.SetDefault("source.item_field", defaultConfig.Source.ItemField)
	v.SetDefault("source.category_table", defaultConfig.Source.CategoryTable)
	v.SetDefault("source.category_item_field", defaultConfig.Source.CategoryItemField)
	v.SetDefault("source.category_field", defaultConfig.Source.CategoryField)
	// [recommend]
	v.SetDefault("recommend.top_n", defaultConfig.Recommend.TopN)
	v.SetDefault("recommend.by_category", defaultConfig.Recommend.ByCategory)
	// [output]
	v.SetDefault("output.path", defaultConfig.Output.Path)
	v.SetDefault("output.redis", defaultConfig.Output.Redis)
	v.SetDefault("output.metrics_path", defaultConfig.Output.MetricsPath)
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads configuration from a file and environment variables. Files
// without a known extension are read as TOML.
// Every key can be set by FMEVAL_<SECTION>_<KEY>, frequently used keys have
// shorter aliases. An empty path loads defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)

	v.SetEnvPrefix("FMEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindings := []configBinding{
		{"engine.libfm_path", "FMEVAL_LIBFM_PATH"},
		{"engine.jobs", "FMEVAL_JOBS"},
		{"source.database", "FMEVAL_DATABASE"},
		{"output.redis", "FMEVAL_REDIS"},
	}
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); !lo.Contains([]string{"toml", "yaml", "yml", "json"}, ext) {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks value ranges of the configuration.
func (config *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(config); err != nil {
		return errors.Annotate(err, "invalid config")
	}
	return nil
}
