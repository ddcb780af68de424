package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/trailhead/trailimport/internal/config"
)

// RemoteInvoker starts imports on the hosted backend's server-side
// functions. The function creates the jobs and returns the id to poll.
type RemoteInvoker struct {
	client *resty.Client
}

type invokeResponse struct {
	JobID     string `json:"job_id"`
	JobIDAlt  string `json:"jobId"`
	BulkJobID string `json:"bulk_job_id"`
	Error     string `json:"error"`
}

func NewRemoteInvoker(cfg *config.FunctionsConfig) *RemoteInvoker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey).SetHeader("apikey", cfg.APIKey)
	}
	return &RemoteInvoker{client: client}
}

// Invoke POSTs body to the named function and returns the job id it
// started. A bulk job id is preferred when the function reports one.
func (r *RemoteInvoker) Invoke(ctx context.Context, name string, body interface{}) (string, error) {
	var out invokeResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to invoke function %s: %w", name, err)
	}
	if resp.IsError() {
		if out.Error != "" {
			return "", fmt.Errorf("function %s returned status %d: %s", name, resp.StatusCode(), out.Error)
		}
		return "", fmt.Errorf("function %s returned status %d", name, resp.StatusCode())
	}

	switch {
	case out.BulkJobID != "":
		return out.BulkJobID, nil
	case out.JobID != "":
		return out.JobID, nil
	case out.JobIDAlt != "":
		return out.JobIDAlt, nil
	}
	return "", fmt.Errorf("function %s did not return a job id", name)
}
