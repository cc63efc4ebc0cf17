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
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gorse-io/fmeval/common/libfm"
	"github.com/gorse-io/fmeval/config"
	"github.com/gorse-io/fmeval/dataset"
	"github.com/gorse-io/fmeval/evaluator"
	"github.com/gorse-io/fmeval/storage/cache"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTransformCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "transform [observations.csv]",
		Short: "Convert observations to libFM instances",
		Args:  cobra.MaximumNArgs(1),
		RunE: withDataset(func(ctx context.Context, cmd *cobra.Command, conf *config.Config, ds *dataset.Dataset, logger *zap.Logger) error {
			output, _ := cmd.Flags().GetString("output")
			lines := libfm.EncodeAll(ds.Instances())
			err := writeOutput(output, cmd.OutOrStdout(), func(w io.Writer) error {
				for _, line := range lines {
					if _, err := io.WriteString(w, line+"\n"); err != nil {
						return errors.Trace(err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if indexPath, _ := cmd.Flags().GetString("dump-index"); indexPath != "" {
				err = writeOutput(indexPath, cmd.OutOrStdout(), func(w io.Writer) error {
					return dataset.DumpIndex(w, ds.Registry())
				})
				if err != nil {
					return err
				}
			}
			logger.Info("complete transform", zap.Int("n_instances", len(lines)), zap.String("output", output))
			return nil
		}),
	}
	command.Flags().StringP("output", "o", "-", "output file of instances")
	command.Flags().String("dump-index", "", "output file of the identity index")
	return command
}

func newLOOCVCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "loocv [observations.csv]",
		Short: "Evaluate by leave-one-out cross validation",
		Args:  cobra.MaximumNArgs(1),
		RunE: withDataset(func(ctx context.Context, cmd *cobra.Command, conf *config.Config, ds *dataset.Dataset, logger *zap.Logger) error {
			records, err := evaluator.LeaveOneOut(ctx, ds, newEngine(conf.Engine), evaluatorOptions(cmd, conf))
			if err != nil {
				return errors.Trace(err)
			}
			if err = writeOutput(conf.Output.Path, cmd.OutOrStdout(), func(w io.Writer) error {
				return evaluator.WriteRecords(w, records)
			}); err != nil {
				return err
			}
			rmse := evaluator.RMSE(records)
			logger.Info("complete leave-one-out cross validation",
				zap.Int("n_instances", len(records)),
				zap.Float64("rmse", rmse),
				zap.String("output", conf.Output.Path))
			return renderTable(summaryWriter(cmd, conf.Output.Path), []string{"Instances", "RMSE"},
				[][]string{{strconv.Itoa(len(records)), formatFloat(rmse)}})
		}),
	}
	command.Flags().StringP("output", "o", "", "output file of predictions")
	return command
}

func newCVCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "cv [observations.csv]",
		Short: "Evaluate by k-fold cross validation",
		Args:  cobra.MaximumNArgs(1),
		RunE: withDataset(func(ctx context.Context, cmd *cobra.Command, conf *config.Config, ds *dataset.Dataset, logger *zap.Logger) error {
			folds, _ := cmd.Flags().GetInt("folds")
			splitSeed, _ := cmd.Flags().GetInt64("split-seed")
			cv, err := evaluator.KFold(ctx, ds, newEngine(conf.Engine), folds, splitSeed, evaluatorOptions(cmd, conf))
			if err != nil {
				return errors.Trace(err)
			}
			if err = writeOutput(conf.Output.Path, cmd.OutOrStdout(), func(w io.Writer) error {
				return evaluator.WriteRecords(w, cv.Records())
			}); err != nil {
				return err
			}
			logger.Info("complete cross validation",
				zap.Int("n_folds", len(cv.Folds)),
				zap.Float64("rmse", cv.RMSE()),
				zap.Float64("mean_fold_rmse", cv.MeanFoldRMSE()),
				zap.String("output", conf.Output.Path))
			rows := make([][]string, 0, len(cv.Folds)+2)
			for i, fold := range cv.Folds {
				rows = append(rows, []string{fmt.Sprintf("Fold %d", i+1), strconv.Itoa(len(fold.Records)), formatFloat(fold.RMSE)})
			}
			rows = append(rows,
				[]string{"Overall", strconv.Itoa(len(cv.Records())), formatFloat(cv.RMSE())},
				[]string{"Mean", "", formatFloat(cv.MeanFoldRMSE())})
			return renderTable(summaryWriter(cmd, conf.Output.Path), []string{"", "Instances", "RMSE"}, rows)
		}),
	}
	command.Flags().StringP("output", "o", "", "output file of predictions")
	command.Flags().IntP("folds", "f", 10, "number of folds, 0 for leave-one-out")
	command.Flags().Int64("split-seed", 1, "seed of the fold shuffle")
	return command
}

func newRecommendCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "recommend [observations.csv]",
		Short: "Generate top-N recommendations of unseen items",
		Args:  cobra.MaximumNArgs(1),
		RunE: withDataset(func(ctx context.Context, cmd *cobra.Command, conf *config.Config, ds *dataset.Dataset, logger *zap.Logger) error {
			eng := newEngine(conf.Engine)
			byCategory := conf.Recommend.ByCategory
			var recommendations []evaluator.Recommendation
			if userId, _ := cmd.Flags().GetString("user"); userId != "" {
				category, _ := cmd.Flags().GetString("category")
				items, err := evaluator.Recommend(ctx, ds, eng, userId, category, conf.Recommend.TopN, conf.Engine.NFactors)
				if err != nil {
					return errors.Trace(err)
				}
				if len(items) > 0 {
					recommendations = append(recommendations, evaluator.Recommendation{UserId: userId, Category: category, Items: items})
				}
				byCategory = category != ""
			} else {
				var err error
				recommendations, err = evaluator.RecommendAll(ctx, ds, eng, evaluator.RecommendOptions{
					Options:    evaluatorOptions(cmd, conf),
					TopN:       conf.Recommend.TopN,
					ByCategory: byCategory,
				})
				if err != nil {
					return errors.Trace(err)
				}
			}
			if err := writeOutput(conf.Output.Path, cmd.OutOrStdout(), func(w io.Writer) error {
				return evaluator.WriteRecommendations(w, recommendations, byCategory)
			}); err != nil {
				return err
			}
			if conf.Output.Redis != "" {
				if err := saveRecommendations(ctx, conf.Output.Redis, recommendations); err != nil {
					return err
				}
				logger.Info("save recommendations to redis", zap.Int("n_lists", len(recommendations)))
			}
			logger.Info("complete recommendation",
				zap.Int("n_lists", len(recommendations)),
				zap.String("output", conf.Output.Path))
			return nil
		}),
	}
	command.Flags().StringP("output", "o", "", "output file of recommendations")
	command.Flags().IntP("top-n", "n", 10, "length of recommendation lists, 0 for all candidates")
	command.Flags().Bool("by-category", false, "generate a list per user and category")
	command.Flags().String("redis", "", "save recommendations to redis")
	command.Flags().String("user", "", "recommend for this user only")
	command.Flags().String("category", "", "restrict candidates of --user to this category")
	return command
}

func saveRecommendations(ctx context.Context, redisURL string, recommendations []evaluator.Recommendation) error {
	redis, err := cache.Open(redisURL)
	if err != nil {
		return errors.Trace(err)
	}
	defer redis.Close()
	if err = redis.Ping(ctx); err != nil {
		return errors.Annotate(err, "failed to connect redis")
	}
	for _, recommendation := range recommendations {
		scores := lo.Map(recommendation.Items, func(item evaluator.ScoredItem, _ int) cache.Score {
			return cache.Score{Id: item.ItemId, Score: item.Score}
		})
		if err = redis.SetRecommend(ctx, recommendation.UserId, recommendation.Category, scores); err != nil {
			return errors.Annotatef(err, "failed to save recommendation of %s", recommendation.UserId)
		}
	}
	return nil
}

func newRMSECommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rmse <predictions.csv>",
		Short: "Compute RMSE of a prediction file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return errors.Trace(err)
			}
			defer file.Close()
			records, err := evaluator.ReadRecords(file)
			if err != nil {
				return errors.Annotatef(err, "failed to read %s", args[0])
			}
			return renderTable(cmd.OutOrStdout(), []string{"Instances", "RMSE"},
				[][]string{{strconv.Itoa(len(records)), formatFloat(evaluator.RMSE(records))}})
		},
	}
}

// summaryWriter keeps summaries off stdout when results are written there.
func summaryWriter(cmd *cobra.Command, output string) io.Writer {
	if output == "" || output == "-" {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(lo.ToAnySlice(header)...)
	if err := table.Bulk(rows); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(table.Render())
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', 6, 64)
}
