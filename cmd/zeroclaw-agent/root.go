package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zeroclaw-agent",
		Short: "A sandboxed, bounded-autonomy tool-use agent",
		Long: `zeroclaw-agent runs a single LLM-driven tool-use loop against a sandboxed
workspace, gated by a security policy and an emergency-stop switch.

Providers: Anthropic, OpenAI, Azure OpenAI, Bedrock, Google, Ollama, OpenRouter, Copilot Proxy.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	cmd.AddCommand(
		buildRunCmd(),
		buildEstopCmd(),
		buildSecretCmd(),
		buildBridgeCmd(),
	)

	return cmd
}
