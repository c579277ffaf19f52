package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// pingURL issues a GET against the task URL. Any received response counts as
// a successful ping, non-2xx included; the probe checks liveness, not
// correctness. Timeouts and transport errors become failed outcomes and
// never escape this boundary.
func (s *Service) pingURL(ctx context.Context, url string) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{Success: false, Message: "Ping failed: " + err.Error()}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Outcome{Success: false, Message: "Ping failed: " + err.Error()}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	return Outcome{Success: true, Message: fmt.Sprintf("Pinged successfully (%d)", resp.StatusCode)}
}
