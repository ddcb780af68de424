package source

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/trailhead/trailimport/internal/retry"
)

// NewHTTPClient returns the resty client shared by live adapters.
func NewHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "trailimport/1.0")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return client
}

// CheckResponse turns a transport error or non-2xx status into an error.
// Client errors other than 408 and 429 are marked permanent so the pager
// does not retry them.
func CheckResponse(resp *resty.Response, err error, what string) error {
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", what, err)
	}
	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return nil
	}
	statusErr := fmt.Errorf("%s returned status %d", what, status)
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return retry.Permanent(statusErr)
	}
	return statusErr
}
