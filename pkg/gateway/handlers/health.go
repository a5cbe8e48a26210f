package handlers

import (
	"net/http"

	"github.com/avirahq/interviewd/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK              bool     `json:"ok"`
		PersistentStore bool     `json:"persistent_store"`
		EngineReady     bool     `json:"engine_ready"`
		Issues          []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.GenAIAPIKey == "" {
		issues = append(issues, "no genai api key configured")
	}
	if h.Config.GenAIModel == "" {
		issues = append(issues, "no genai model configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if h.Config.ShutdownGracePeriod <= 0 {
		issues = append(issues, "shutdown grace period must be > 0")
	}

	resp := readyResp{
		OK:              len(issues) == 0,
		PersistentStore: h.Config.StoreDir != "",
		EngineReady:     h.Config.GenAIAPIKey != "",
		Issues:          issues,
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
