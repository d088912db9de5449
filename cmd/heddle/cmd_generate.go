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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/heddle/pkg/serving"
)

var (
	generateConversationID string
	generateJSON           bool
	routeJSON              bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [query]",
	Short: "Generate a response through the adaptive router",
	Long: `Generate a response for the given query.

The query is analyzed for complexity, routed to the appropriate model
tier (or the remote failover chain with --failover), and the exchange is
recorded in the conversation context.

Examples:
  heddle generate "Summarize this text briefly"
  heddle generate --conversation demo "What did I just ask?"
  heddle generate --json "Design a distributed architecture"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

var routeCmd = &cobra.Command{
	Use:   "route [query]",
	Short: "Show the routing decision without generating",
	Long:  `Analyze the query and print the tier the router would select, with its reasoning, without calling any model.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRoute,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(routeCmd)

	generateCmd.Flags().StringVarP(&generateConversationID, "conversation", "c", "", "conversation ID (empty starts a new conversation)")
	generateCmd.Flags().BoolVar(&generateJSON, "json", false, "print the full response as JSON")
	routeCmd.Flags().BoolVar(&routeJSON, "json", false, "print the decision as JSON")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(config)
	if err != nil {
		return err
	}
	defer rt.Close()

	resp, err := rt.Service.GenerateResponse(cmd.Context(), serving.Request{
		Query:          strings.Join(args, " "),
		ConversationID: generateConversationID,
	})
	if err != nil {
		return err
	}

	if generateJSON {
		return printJSON(resp)
	}

	fmt.Println(resp.Content)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "conversation: %s\n", resp.ConversationID)
	fmt.Fprintf(os.Stderr, "provider: %s  model: %s  tokens: %d  time: %.2fs\n",
		resp.Provider, resp.Model, resp.TokenCount, resp.ResponseTime)
	if tier, ok := resp.RoutingMetadata["selected_tier"]; ok {
		fmt.Fprintf(os.Stderr, "tier: %v  complexity: %v\n",
			tier, resp.RoutingMetadata["complexity"])
	}
	if resp.FallbackUsed {
		fmt.Fprintln(os.Stderr, "fallback: yes")
	}
	if resp.Err != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.Err)
	}
	return nil
}

func runRoute(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(config)
	if err != nil {
		return err
	}
	defer rt.Close()

	decision, err := rt.Service.RouteOnly(cmd.Context(), strings.Join(args, " "), "")
	if err != nil {
		return err
	}

	if routeJSON {
		return printJSON(decision)
	}

	fmt.Printf("tier: %s\n", decision.SelectedTier)
	fmt.Printf("model: %s\n", decision.ModelConfig.ModelName)
	fmt.Printf("confidence: %.2f\n", decision.Confidence)
	fmt.Printf("estimated time: %.2fs\n", decision.EstimatedResponseTime)
	if decision.FallbackTier != nil {
		fmt.Printf("fallback tier: %s\n", *decision.FallbackTier)
	}
	fmt.Printf("reasoning: %s\n", decision.Reasoning)
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
