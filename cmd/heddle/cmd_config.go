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
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/teradata-labs/heddle/pkg/provider/factory"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage heddle configuration",
	Long:  `Manage configuration files and secrets for heddle.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example heddle.yaml configuration file in ~/.heddle/`,
	Run:   runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	Long:  `Check the merged configuration (flags, file, environment, defaults) for correctness.`,
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources).`,
	RunE:  runConfigShow,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save API key to system keyring",
	Long: `Save an API key to the system keyring securely.

The key will be stored in your system's secure credential storage
(Keychain on macOS, Credential Manager on Windows, Secret Service on Linux).

Run 'heddle config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve API key from system keyring",
	Long:  `Retrieve an API key from the system keyring (for verification).`,
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete API key from system keyring",
	Long:  `Remove an API key from the system keyring.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List available secret keys",
	Long:  `List all available secret keys that can be stored in the keyring.`,
	Run:   runConfigListKeys,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configDir := GetDataDir()
	configPath := filepath.Join(configDir, "heddle.yaml")

	if err := os.MkdirAll(configDir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists: %s\n", configPath)
		fmt.Print("Overwrite? (y/N): ")
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	if err := os.WriteFile(configPath, []byte(GenerateExampleConfig()), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the file to match your deployment")
	fmt.Println("  2. Save API keys: heddle config set-key anthropic_api_key")
	fmt.Println("  3. Verify: heddle config validate")
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return err
	}
	fmt.Println("Configuration is valid")
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("Config file: %s\n", used)
	} else {
		fmt.Println("Config file: none (defaults + flags + environment)")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Keys live in the keyring; never echo them.
	redacted := *config
	redacted.Context.RedisPassword = redact(redacted.Context.RedisPassword)
	redacted.Failover.Chain = append([]factory.Spec(nil), config.Failover.Chain...)
	for i := range redacted.Failover.Chain {
		redacted.Failover.Chain[i].APIKey = redact(redacted.Failover.Chain[i].APIKey)
	}
	return printJSON(redacted)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]

	if !isKnownSecretKey(keyName) {
		return fmt.Errorf("unknown key name %q (run 'heddle config list-keys')", keyName)
	}

	fmt.Printf("Enter value for %s: ", keyName)
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading secret: %w", err)
	}
	if len(value) == 0 {
		return fmt.Errorf("empty value, nothing saved")
	}

	if err := SaveSecretToKeyring(keyName, string(value)); err != nil {
		return fmt.Errorf("saving to keyring: %w", err)
	}
	fmt.Printf("Saved %s to keyring\n", keyName)
	return nil
}

func runConfigGetKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	value, err := GetSecretFromKeyring(keyName)
	if err != nil {
		return fmt.Errorf("key %q not found in keyring", keyName)
	}
	// Show enough to verify, not enough to leak.
	if len(value) > 8 {
		fmt.Printf("%s: %s...%s (%d chars)\n", keyName, value[:4], value[len(value)-2:], len(value))
	} else {
		fmt.Printf("%s: set (%d chars)\n", keyName, len(value))
	}
	return nil
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	if err := DeleteSecretFromKeyring(keyName); err != nil {
		return fmt.Errorf("deleting %q: %w", keyName, err)
	}
	fmt.Printf("Deleted %s from keyring\n", keyName)
	return nil
}

func runConfigListKeys(cmd *cobra.Command, args []string) {
	fmt.Println("Available secret keys:")
	for _, key := range ListAvailableSecretKeys() {
		fmt.Printf("  %s\n", key)
	}
}

func isKnownSecretKey(name string) bool {
	for _, key := range ListAvailableSecretKeys() {
		if key == name {
			return true
		}
	}
	return false
}
