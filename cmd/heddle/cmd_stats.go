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

	"github.com/spf13/cobra"

	"github.com/teradata-labs/heddle/internal/version"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime metrics",
	Long:  `Display routing statistics, resource usage, cache performance, and cumulative counters.`,
	RunE:  runStats,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the heddle version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the full snapshot as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(config)
	if err != nil {
		return err
	}
	defer rt.Close()

	snap := rt.Service.Metrics(cmd.Context())
	if statsJSON {
		return printJSON(snap)
	}

	fmt.Println("Routing")
	fmt.Printf("  requests: %d\n", snap.Router.RoutingStats.TotalRequests)
	for complexity, n := range snap.Router.RoutingStats.ByComplexity {
		fmt.Printf("  %s: %d\n", complexity, n)
	}
	for tier, perf := range snap.Router.TierPerformance {
		fmt.Printf("  %s: %d requests, %d fallbacks, %.2fs avg\n",
			tier, perf.Requests, perf.Fallbacks, perf.AvgResponseSeconds)
	}

	fmt.Println("Resources")
	fmt.Printf("  GPU: %d/%d MB (%.1f%%)\n",
		snap.Resources.GPUMemUsedMB, snap.Resources.GPUMemTotalMB, snap.Resources.GPUUtilPercent)
	fmt.Printf("  loaded models: %v\n", rt.Lifecycle.LoadedModels())

	fmt.Println("Cache")
	total := snap.Cache.Hits + snap.Cache.Misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(snap.Cache.Hits) / float64(total) * 100
	}
	fmt.Printf("  hits: %d  misses: %d  hit rate: %.1f%%\n",
		snap.Cache.Hits, snap.Cache.Misses, hitRate)

	if len(snap.Counters) > 0 {
		fmt.Println("Counters")
		for name, value := range snap.Counters {
			fmt.Printf("  %s: %.0f\n", name, value)
		}
	}

	if snap.Failover != nil {
		fmt.Println("Failover")
		fmt.Printf("  successful: %d  failed: %d  fallbacks: %d\n",
			snap.Failover.SuccessfulRequests, snap.Failover.FailedRequests, snap.Failover.FallbackRequests)
	}

	fmt.Println("Store")
	fmt.Printf("  backend: %s  conversations: %d\n",
		snap.Store.Backend, snap.Store.Conversations)
	return nil
}
