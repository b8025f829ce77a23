// bridge.go implements the "bridge serve" command: the local-tool bridge
// that tunnels eligible tool calls (shell, file_read, file_write) to a
// connected remote operator process, per spec §4.3.
package main

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/bridge"
	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/observability"
)

func buildBridgeCmd() *cobra.Command {
	var stateDir, addr string

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run the local-tool bridge that tunnels tool calls to a remote operator",
	}
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".zeroclaw", "Directory holding the approvals database")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for operator WebSocket connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			approvalsPath := filepath.Join(stateDir, "approvals.db")
			store, err := bridge.NewApprovalStore(approvalsPath)
			if err != nil {
				return fmt.Errorf("open approvals store: %w", err)
			}
			defer store.Close()

			logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
			br := bridge.New(store, logger)

			mux := http.NewServeMux()
			mux.HandleFunc("/bridge/ws", func(w http.ResponseWriter, r *http.Request) {
				tenantID := r.URL.Query().Get("tenant_id")
				deviceID := r.URL.Query().Get("device_id")
				br.ServeHTTP(w, r, tenantID, deviceID)
			})

			fmt.Fprintf(cmd.OutOrStdout(), "bridge listening on %s\n", addr)
			return http.ListenAndServe(addr, mux)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":8787", "Address to listen on for operator WebSocket connections")

	cmd.AddCommand(serveCmd)
	return cmd
}
