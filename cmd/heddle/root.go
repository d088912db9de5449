// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "heddle",
	Short:   "Heddle - Adaptive LLM inference router and conversation runtime",
	Long:    `Heddle routes queries to local model tiers by complexity under GPU-memory constraints, fails over between providers under latency ceilings, and maintains Redis-backed conversation context.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HEDDLE_DATA_DIR/heddle.yaml)")

	// Provider flags
	rootCmd.PersistentFlags().String("ollama-endpoint", "http://localhost:11434", "Ollama server URL")
	rootCmd.PersistentFlags().Float64("temperature", 0.7, "LLM temperature")
	rootCmd.PersistentFlags().Int("generate-timeout", 30, "Generation timeout in seconds")
	rootCmd.PersistentFlags().Bool("strict-admission", false, "Enforce tier capacity with a semaphore")

	// Lifecycle flags
	rootCmd.PersistentFlags().Int("max-models", 3, "Maximum concurrently loaded models")
	rootCmd.PersistentFlags().Float64("memory-threshold", 85, "GPU memory admission threshold (percent)")
	rootCmd.PersistentFlags().Int("gpu-memory-mb", 49152, "Total GPU memory budget in MB")

	// Model catalog flags
	rootCmd.PersistentFlags().String("model-overrides", "", "Tier override YAML file (hot-reloaded)")

	// Context store flags
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address for conversation storage")

	// Failover flags
	rootCmd.PersistentFlags().Bool("failover", false, "Route generation through the remote provider chain")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("providers.ollama_endpoint", rootCmd.PersistentFlags().Lookup("ollama-endpoint"))
	_ = viper.BindPFlag("serving.temperature", rootCmd.PersistentFlags().Lookup("temperature"))
	_ = viper.BindPFlag("serving.generate_timeout_seconds", rootCmd.PersistentFlags().Lookup("generate-timeout"))
	_ = viper.BindPFlag("serving.strict_admission", rootCmd.PersistentFlags().Lookup("strict-admission"))

	_ = viper.BindPFlag("lifecycle.max_concurrent_models", rootCmd.PersistentFlags().Lookup("max-models"))
	_ = viper.BindPFlag("lifecycle.memory_threshold_percent", rootCmd.PersistentFlags().Lookup("memory-threshold"))
	_ = viper.BindPFlag("lifecycle.gpu_memory_total_mb", rootCmd.PersistentFlags().Lookup("gpu-memory-mb"))

	_ = viper.BindPFlag("models.overrides_path", rootCmd.PersistentFlags().Lookup("model-overrides"))

	_ = viper.BindPFlag("context.redis_addr", rootCmd.PersistentFlags().Lookup("redis-addr"))

	_ = viper.BindPFlag("failover.enabled", rootCmd.PersistentFlags().Lookup("failover"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.New(config.Logging.Level, config.Logging.Format, config.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
	log.SetLogger(logger)
}
