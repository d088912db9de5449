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
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modelsForceLoad bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the local model catalog",
	Long:  `Inspect and control the models backing the routing tiers.`,
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tiers, their models, and load state",
	RunE:  runModelsList,
}

var modelsLoadCmd = &cobra.Command{
	Use:   "load [model]",
	Short: "Load a model into GPU memory",
	Long: `Load a model, subject to the concurrency cap and GPU memory threshold.

With --force, idle models are evicted first and the load proceeds
regardless of the admission checks.`,
	Args: cobra.ExactArgs(1),
	RunE: runModelsLoad,
}

var modelsUnloadCmd = &cobra.Command{
	Use:   "unload [model]",
	Short: "Unload a model from GPU memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsUnload,
}

var modelsOptimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Evict idle models, keeping the most recently used",
	RunE:  runModelsOptimize,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsLoadCmd)
	modelsCmd.AddCommand(modelsUnloadCmd)
	modelsCmd.AddCommand(modelsOptimizeCmd)

	modelsLoadCmd.Flags().BoolVar(&modelsForceLoad, "force", false, "evict idle models and bypass admission checks")
}

func runModelsList(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(config)
	if err != nil {
		return err
	}
	defer rt.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tMODEL\tSTATUS\tGPU MB\tCONTEXT\tTOK/S")
	for _, mc := range rt.Registry.All() {
		status := "unloaded"
		if info := rt.Lifecycle.Status(mc.ModelName); info != nil {
			status = string(info.Status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.0f\n",
			mc.Tier, mc.ModelName, status, mc.GPUMemoryMB, mc.ContextWindow, mc.AvgTokensPerSecond)
	}
	return w.Flush()
}

func runModelsLoad(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(config)
	if err != nil {
		return err
	}
	defer rt.Close()

	loaded, err := rt.Service.LoadModel(cmd.Context(), args[0], modelsForceLoad)
	if err != nil {
		return err
	}
	if loaded {
		fmt.Printf("Loaded %s\n", args[0])
	} else {
		fmt.Printf("%s already loaded\n", args[0])
	}
	return nil
}

func runModelsUnload(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(config)
	if err != nil {
		return err
	}
	defer rt.Close()

	unloaded, err := rt.Service.UnloadModel(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if unloaded {
		fmt.Printf("Unloaded %s\n", args[0])
	} else {
		fmt.Printf("%s was not loaded\n", args[0])
	}
	return nil
}

func runModelsOptimize(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(config)
	if err != nil {
		return err
	}
	defer rt.Close()

	result := rt.Service.OptimizeMemory(cmd.Context())
	if len(result.Unloaded) == 0 {
		fmt.Println("Nothing to evict")
	} else {
		for _, m := range result.Unloaded {
			fmt.Printf("Unloaded %s\n", m)
		}
		fmt.Printf("Freed %d MB in %s\n", result.MemoryFreedMB, result.Elapsed)
	}
	if len(result.KeptLoaded) > 0 {
		fmt.Printf("Kept loaded: %v\n", result.KeptLoaded)
	}
	return nil
}
