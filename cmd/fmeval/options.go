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

package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/gorse-io/fmeval/base/log"
	"github.com/gorse-io/fmeval/config"
	"github.com/gorse-io/fmeval/dataset"
	"github.com/gorse-io/fmeval/engine"
	"github.com/gorse-io/fmeval/evaluator"
	"github.com/gorse-io/fmeval/storage/data"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func addEngineFlags(flags *pflag.FlagSet) {
	flags.String("backend", config.BackendLibFM, "scoring backend (libfm, fm)")
	flags.String("libfm-path", engine.DefaultLibFMPath, "path of the libFM binary")
	flags.String("method", "", "libFM learning method (sgd, sgda, als, mcmc)")
	flags.IntP("factors", "k", 8, "dimensionality of pairwise interactions")
	flags.IntP("jobs", "j", 1, "number of concurrent engine calls")
	flags.Int("epochs", 100, "number of training iterations")
	flags.Int64("seed", 0, "seed of the engine")
	flags.Duration("timeout", 0, "timeout of a single engine call")
}

func addSourceFlags(flags *pflag.FlagSet) {
	flags.String("sep", ",", "separator of CSV files")
	flags.Bool("header", true, "skip the first line of CSV files")
	flags.Int("user-column", 0, "column of users in the observation CSV")
	flags.Int("item-column", 1, "column of items in the observation CSV")
	flags.String("categories", "", "CSV file of item categories")
	flags.String("database", "", "database URL of observations")
	flags.String("table", "", "table of observations")
	flags.String("user-field", "", "field of users in the observation table")
	flags.String("item-field", "", "field of items in the observation table")
	flags.String("category-table", "", "table of item categories")
	flags.String("category-item-field", "", "field of items in the category table")
	flags.String("category-field", "", "field of categories in the category table")
}

// loadConfig loads the configuration file and applies changed flags on top of it. The first
// positional argument, if any, is the observation CSV.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to load config %q", configPath)
	}
	setString := func(name string, value *string) {
		if flags.Changed(name) {
			*value, _ = flags.GetString(name)
		}
	}
	setInt := func(name string, value *int) {
		if flags.Changed(name) {
			*value, _ = flags.GetInt(name)
		}
	}
	setBool := func(name string, value *bool) {
		if flags.Changed(name) {
			*value, _ = flags.GetBool(name)
		}
	}
	// [engine]
	setString("backend", &conf.Engine.Backend)
	setString("libfm-path", &conf.Engine.LibFMPath)
	setString("method", &conf.Engine.Method)
	setInt("factors", &conf.Engine.NFactors)
	setInt("jobs", &conf.Engine.Jobs)
	setInt("epochs", &conf.Engine.NEpochs)
	if flags.Changed("seed") {
		conf.Engine.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("timeout") {
		conf.Engine.Timeout, _ = flags.GetDuration("timeout")
	}
	// [source]
	if len(args) > 0 {
		conf.Source.CSVPath = args[0]
	}
	setString("sep", &conf.Source.CSVSep)
	setBool("header", &conf.Source.CSVHeader)
	setInt("user-column", &conf.Source.UserColumn)
	setInt("item-column", &conf.Source.ItemColumn)
	setString("categories", &conf.Source.CategoryPath)
	setString("database", &conf.Source.Database)
	setString("table", &conf.Source.Table)
	setString("user-field", &conf.Source.UserField)
	setString("item-field", &conf.Source.ItemField)
	setString("category-table", &conf.Source.CategoryTable)
	setString("category-item-field", &conf.Source.CategoryItemField)
	setString("category-field", &conf.Source.CategoryField)
	// [recommend]
	if flags.Lookup("top-n") != nil {
		setInt("top-n", &conf.Recommend.TopN)
		setBool("by-category", &conf.Recommend.ByCategory)
	}
	// [output]
	if flags.Lookup("output") != nil {
		setString("output", &conf.Output.Path)
	}
	if flags.Lookup("redis") != nil {
		setString("redis", &conf.Output.Redis)
	}
	setString("metrics-path", &conf.Output.MetricsPath)

	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// runner is the body of a command that works on a dataset.
type runner func(ctx context.Context, cmd *cobra.Command, conf *config.Config, ds *dataset.Dataset, logger *zap.Logger) error

// withDataset loads configuration and the dataset, then runs the command body. Engine metrics
// are written afterwards if requested, also when the body fails.
func withDataset(run runner) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd, args)
		if err != nil {
			return err
		}
		logger := log.RunLogger(uuid.NewString()).With(zap.String("command", cmd.Name()))
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ds, err := loadDataset(ctx, conf.Source, logger)
		if err != nil {
			return err
		}
		err = run(ctx, cmd, conf, ds, logger)
		if conf.Output.MetricsPath != "" {
			if metricsErr := engine.WriteMetrics(conf.Output.MetricsPath); metricsErr != nil {
				logger.Error("failed to write metrics", zap.String("path", conf.Output.MetricsPath), zap.Error(metricsErr))
			}
		}
		return err
	}
}

// loadDataset reads observations and categorizations from the database or CSV files.
func loadDataset(ctx context.Context, source config.SourceConfig, logger *zap.Logger) (*dataset.Dataset, error) {
	var (
		observations    []dataset.Observation
		categorizations []dataset.Categorization
		err             error
	)
	switch {
	case source.Database != "":
		logger.Info("load observations from database",
			zap.String("database", log.RedactDBURL(source.Database)),
			zap.String("table", source.Table))
		var db *data.SQLSource
		if db, err = data.Open(source.Database); err != nil {
			return nil, errors.Trace(err)
		}
		defer db.Close()
		if observations, err = db.LoadObservations(ctx, source.Table, source.UserField, source.ItemField); err != nil {
			return nil, errors.Trace(err)
		}
		if source.CategoryTable != "" {
			categorizations, err = db.LoadCategorizations(ctx, source.CategoryTable, source.CategoryItemField, source.CategoryField)
			if err != nil {
				return nil, errors.Trace(err)
			}
		}
	case source.CSVPath != "":
		logger.Info("load observations from CSV", zap.String("path", source.CSVPath))
		observations, err = dataset.LoadCSV(source.CSVPath, dataset.CSVOptions{
			Sep:        source.CSVSep,
			Header:     source.CSVHeader,
			UserColumn: source.UserColumn,
			ItemColumn: source.ItemColumn,
		})
		if err != nil {
			return nil, errors.Annotatef(err, "failed to load %s", source.CSVPath)
		}
	default:
		return nil, errors.New("no observations: set source.csv_path, source.database or pass a CSV file")
	}
	if source.CategoryPath != "" {
		more, err := dataset.LoadCategoryCSV(source.CategoryPath, source.CSVSep, source.CSVHeader)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to load %s", source.CategoryPath)
		}
		categorizations = append(categorizations, more...)
	}
	ds, err := dataset.Build(observations, categorizations)
	if err != nil {
		return nil, errors.Trace(err)
	}
	registry := ds.Registry()
	logger.Info("dataset loaded",
		zap.Int("n_observations", ds.Store().Count()),
		zap.Int("n_users", registry.Count(dataset.UserNamespace)),
		zap.Int("n_items", registry.Count(dataset.ItemNamespace)),
		zap.Int("n_categories", registry.Count(dataset.CategoryNamespace)))
	return ds, nil
}

func newEngine(conf config.EngineConfig) engine.Engine {
	switch conf.Backend {
	case config.BackendFM:
		fm := engine.NewFM()
		fm.NEpochs = conf.NEpochs
		fm.Lr = conf.Lr
		fm.Reg = conf.Reg
		fm.InitStdDev = conf.InitStd
		fm.Seed = conf.Seed
		return fm
	default:
		libFM := engine.NewLibFM(conf.LibFMPath)
		libFM.Method = conf.Method
		libFM.NIter = conf.NEpochs
		libFM.InitStdDev = conf.InitStd
		libFM.Seed = conf.Seed
		libFM.Timeout = conf.Timeout
		return libFM
	}
}

func evaluatorOptions(cmd *cobra.Command, conf *config.Config) evaluator.Options {
	progress, _ := cmd.Flags().GetBool("progress")
	return evaluator.Options{
		NFactors: conf.Engine.NFactors,
		Jobs:     conf.Engine.Jobs,
		Progress: progress,
	}
}

// writeOutput writes to a temporary sibling of path and renames it on success, so a failed run
// never leaves a partial file. An empty path or "-" writes to w.
func writeOutput(path string, w io.Writer, write func(w io.Writer) error) error {
	if path == "" || path == "-" {
		return write(w)
	}
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Trace(err)
	}
	defer os.Remove(file.Name())
	buffer := bufio.NewWriter(file)
	if err = write(buffer); err != nil {
		_ = file.Close()
		return err
	}
	if err = buffer.Flush(); err != nil {
		_ = file.Close()
		return errors.Trace(err)
	}
	if err = file.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(file.Name(), path))
}
