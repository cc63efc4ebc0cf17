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
	"os"
	"os/signal"

	"github.com/gorse-io/fmeval/base/log"
	"github.com/gorse-io/fmeval/cmd/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "fmeval",
		Short:         "Evaluate factorization machine recommenders.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			log.SetLogger(cmd.Flags(), debug)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
				return nil
			}
			return cmd.Help()
		},
	}
	flags := rootCommand.PersistentFlags()
	log.AddFlags(flags)
	flags.Bool("debug", false, "use debug log mode")
	flags.StringP("config", "c", "", "configuration file path")
	flags.Bool("progress", false, "show progress bars")
	flags.String("metrics-path", "", "write engine metrics to this file")
	addEngineFlags(flags)
	addSourceFlags(flags)
	rootCommand.Flags().BoolP("version", "v", false, "fmeval version")

	rootCommand.AddCommand(
		newTransformCommand(),
		newLOOCVCommand(),
		newCVCommand(),
		newRecommendCommand(),
		newRMSECommand(),
		newVersionCommand(),
	)
	return rootCommand
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version of fmeval",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
