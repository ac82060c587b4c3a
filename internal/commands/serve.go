// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tombee/dirigent/internal/registry"
)

// newServeCommand creates the 'serve' command: a long-running assistant
// with an HTTP query API. Sessions stay warm between queries, the catalog
// reloads on file change, and Prometheus metrics are exposed.
func newServeCommand(flags *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant as a long-lived service",
		Long: `Run the assistant as a long-lived service.

Endpoints:
  POST /v1/ask       {"query": "..."} -> routed tool result
  GET  /v1/servers   registered servers with process state
  GET  /metrics      Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close(cmd)

			watcher, err := registry.NewWatcher(registry.WatcherConfig{
				Registry: rt.registry,
				Path:     rt.configPath,
				Logger:   rt.logger,
			})
			if err != nil {
				rt.logger.Warn("catalog watching disabled", "error", err)
			} else {
				defer watcher.Close()
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("POST /v1/ask", rt.handleAsk)
			mux.HandleFunc("GET /v1/servers", rt.handleServers)

			srv := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Info("assistant listening", "addr", listen)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8475", "Address to listen on")
	return cmd
}

// handleAsk answers one query over HTTP.
func (rt *runtime) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "body must be a JSON object with a non-empty query field")
		return
	}

	answer, err := rt.assistant.Ask(r.Context(), req.Query)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query_id":   answer.QueryID,
		"server":     answer.Classification.TargetServer,
		"tool":       answer.Classification.TargetTool,
		"confidence": answer.Classification.Confidence,
		"result":     answer.Result.String(),
	})
}

// handleServers reports the catalog with live process state.
func (rt *runtime) handleServers(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name          string `json:"name"`
		Kind          string `json:"kind"`
		Enabled       bool   `json:"enabled"`
		State         string `json:"state"`
		PID           int    `json:"pid,omitempty"`
		Pending       int    `json:"pending"`
		UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	}

	statuses := rt.invoker.Status()
	out := make([]entry, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, entry{
			Name:          s.Name,
			Kind:          string(s.Kind),
			Enabled:       s.Enabled,
			State:         string(s.State),
			PID:           s.PID,
			Pending:       s.Pending,
			UptimeSeconds: int64(s.Uptime.Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": out})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
