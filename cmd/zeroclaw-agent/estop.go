// estop.go implements the "estop" command group: engaging and resuming the
// emergency-stop posture described in spec §4.5, plus a status readout.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/estop"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/observability"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secrets"
)

func loadEstopManager(stateDir string, requireOtp bool) (*estop.Manager, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	store := secrets.New(stateDir, true)
	otp, _, err := estop.NewOtpValidator(store, stateDir, "estop")
	if err != nil {
		return nil, fmt.Errorf("init otp validator: %w", err)
	}
	statePath := filepath.Join(stateDir, "estop-state.json")
	manager, report, err := estop.Load(statePath, otp, logger)
	if err != nil {
		return nil, fmt.Errorf("load estop state: %w", err)
	}
	if report.FellBackToKillAll {
		fmt.Printf("warning: estop state fell back to kill-all: %s\n", report.Reason)
	}
	if requireOtp {
		if err := manager.RequireOtpOnResume(true); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// parseLevel turns one of the CLI's level tokens into an estop.Level.
// Accepted forms: "kill-all", "network-kill", "domain-block:a.com,b.com",
// "tool-freeze:shell,http_request".
func parseLevel(token string) (estop.Level, error) {
	switch {
	case token == "kill-all":
		return estop.Level{KillAll: true}, nil
	case token == "network-kill":
		return estop.Level{NetworkKill: true}, nil
	case strings.HasPrefix(token, "domain-block:"):
		domains := strings.Split(strings.TrimPrefix(token, "domain-block:"), ",")
		return estop.Level{DomainBlock: domains}, nil
	case strings.HasPrefix(token, "tool-freeze:"):
		tools := strings.Split(strings.TrimPrefix(token, "tool-freeze:"), ",")
		return estop.Level{ToolFreeze: tools}, nil
	default:
		return estop.Level{}, fmt.Errorf("unrecognized estop level %q (want kill-all, network-kill, domain-block:<list>, or tool-freeze:<list>)", token)
	}
}

func buildEstopCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "estop",
		Short: "Inspect and control the emergency-stop posture",
	}
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".zeroclaw", "Directory holding estop state and secret files")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current estop state",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadEstopManager(stateDir, false)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(manager.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	var engagedBy string
	var requireOtp bool
	engageCmd := &cobra.Command{
		Use:   "engage <level>",
		Short: "Engage an estop level (kill-all, network-kill, domain-block:<list>, tool-freeze:<list>)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(args[0])
			if err != nil {
				return err
			}
			manager, err := loadEstopManager(stateDir, requireOtp)
			if err != nil {
				return err
			}
			if err := manager.Engage(level, engagedBy); err != nil {
				return fmt.Errorf("engage: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "engaged %s\n", args[0])
			return nil
		},
	}
	engageCmd.Flags().StringVar(&engagedBy, "by", "cli", "Identifier recorded as who engaged the stop")
	engageCmd.Flags().BoolVar(&requireOtp, "require-otp", false, "Require a valid OTP code to resume from this engagement")

	var otpCode string
	resumeCmd := &cobra.Command{
		Use:   "resume [selector]",
		Short: "Clear all active estop levels",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadEstopManager(stateDir, false)
			if err != nil {
				return err
			}
			if err := manager.Resume(otpCode); err != nil {
				return fmt.Errorf("resume: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "resumed")
			return nil
		},
	}
	resumeCmd.Flags().StringVar(&otpCode, "otp", "", "One-time-password code, required if resume is otp-gated")

	cmd.AddCommand(statusCmd, engageCmd, resumeCmd)
	return cmd
}
