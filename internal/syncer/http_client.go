package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/possuite/possync/internal/model"
)

// HTTPHub talks to the hub's HTTP API. Timeouts make every transport error
// transient; the engine retries with backoff.
type HTTPHub struct {
	base   string
	client *http.Client
}

func NewHTTPHub(base string, timeout time.Duration) *HTTPHub {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPHub{base: base, client: &http.Client{Timeout: timeout}}
}

func (h *HTTPHub) Push(ctx context.Context, batch model.SyncBatch) (model.PushAck, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return model.PushAck{}, fmt.Errorf("encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.base+"/sync/push", bytes.NewReader(body))
	if err != nil {
		return model.PushAck{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var ack model.PushAck
	if err := h.do(req, &ack); err != nil {
		return model.PushAck{}, err
	}
	return ack, nil
}

func (h *HTTPHub) Pull(ctx context.Context, terminalID string, sinceToken uint64) (model.PullResult, error) {
	q := url.Values{}
	q.Set("terminal_id", terminalID)
	q.Set("since_token", strconv.FormatUint(sinceToken, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		h.base+"/sync/pull?"+q.Encode(), nil)
	if err != nil {
		return model.PullResult{}, err
	}

	var res model.PullResult
	if err := h.do(req, &res); err != nil {
		return model.PullResult{}, err
	}
	return res, nil
}

func (h *HTTPHub) do(req *http.Request, out interface{}) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
