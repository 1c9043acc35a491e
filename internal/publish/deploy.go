package publish

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DeployHook fires an empty POST at a deploy trigger URL.
type DeployHook struct {
	Client *http.Client
}

func (d DeployHook) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// Fire reports whether the hook answered with a 2xx status.
func (d DeployHook) Fire(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("deploy hook answered %s", resp.Status)
	}
	return nil
}
