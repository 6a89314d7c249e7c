/*
Copyright 2024 ClearHold Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clearhold/clearhold"
	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/database"
	"github.com/clearhold/clearhold/internal/notification"
	"github.com/clearhold/clearhold/processor"
)

// ClearholdCLI encapsulates the root Cobra command.
type ClearholdCLI struct {
	cmd *cobra.Command
}

// engineInstance holds the engine instance and its configuration for the
// lifetime of one command.
type engineInstance struct {
	engine *clearhold.Clearhold
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and wires the engine before any command runs.
func preRun(app *engineInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		engine, err := setupEngine(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.engine = engine
		app.cnf = cnf
		return nil
	}
}

// setupEngine connects the datasource and processor adapter and builds the
// engine from them.
func setupEngine(cfg *config.Configuration) (*clearhold.Clearhold, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	engine, err := clearhold.NewClearhold(db, processor.NewClient(cfg))
	if err != nil {
		return nil, fmt.Errorf("error creating engine: %v", err)
	}
	return engine, nil
}

// NewCLI creates the command-line interface for the engine.
func NewCLI() *ClearholdCLI {
	var configFile string
	b := &engineInstance{}

	var rootCmd = &cobra.Command{
		Use:   "clearhold",
		Short: "Escrow ledger and payout engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./clearhold.json", "Configuration file for the engine")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(jobCommands(b))

	return &ClearholdCLI{cmd: rootCmd}
}

func (w ClearholdCLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
