package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/odong444/cap-api/pkg/capapi"
)

// Client talks to the farm server's solver-facing endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) StartSession(ctx context.Context, userID string) (capapi.StartSessionResponse, error) {
	var out capapi.StartSessionResponse
	err := c.post(ctx, "/api/session/start", capapi.StartSessionRequest{UserID: userID}, &out)
	return out, err
}

func (c *Client) EndSession(ctx context.Context, userID string) error {
	var out capapi.Ack
	return c.post(ctx, "/api/session/end", capapi.EndSessionRequest{UserID: userID}, &out)
}

func (c *Client) ClaimUID(ctx context.Context, userID string) (capapi.PendingUIDResponse, error) {
	var out capapi.PendingUIDResponse
	err := c.get(ctx, "/api/worker/get-pending-uid?user_id="+userID, &out)
	return out, err
}

func (c *Client) PresentScreenshot(ctx context.Context, userID, screenshot, message string) (capapi.Ack, error) {
	var out capapi.Ack
	err := c.post(ctx, "/api/worker/update-screenshot", capapi.UpdateScreenshotRequest{
		UserID:     userID,
		Screenshot: screenshot,
		Message:    message,
	}, &out)
	return out, err
}

func (c *Client) CheckAnswer(ctx context.Context, userID string) (*string, error) {
	var out capapi.CheckAnswerResponse
	if err := c.get(ctx, "/api/worker/check-answer/"+userID, &out); err != nil {
		return nil, err
	}
	return out.Answer, nil
}

func (c *Client) CompleteUID(ctx context.Context, sessionID, userID string, info capapi.SellerInfo) (capapi.CompleteUIDResponse, error) {
	var out capapi.CompleteUIDResponse
	err := c.post(ctx, "/api/worker/complete-uid", capapi.CompleteUIDRequest{
		SessionID:  sessionID,
		UserID:     userID,
		SellerInfo: info,
	}, &out)
	return out, err
}

func (c *Client) RetryTask(ctx context.Context, sessionID string) error {
	var out capapi.Ack
	return c.post(ctx, "/api/worker/retry-task", capapi.RetryTaskRequest{SessionID: sessionID}, &out)
}

func (c *Client) ReleaseUID(ctx context.Context, userID string, uidID int64) error {
	var out capapi.Ack
	return c.post(ctx, "/api/worker/release-uid", capapi.ReleaseUIDRequest{UserID: userID, UIDID: uidID}, &out)
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, respBody)
}

func (c *Client) get(ctx context.Context, path string, respBody any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, respBody)
}

func (c *Client) do(req *http.Request, respBody any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &serverError{status: resp.Status}
	}
	if respBody != nil {
		return json.NewDecoder(resp.Body).Decode(respBody)
	}
	return nil
}

type serverError struct {
	status string
}

func (e *serverError) Error() string {
	return "farm server request failed: " + e.status
}
