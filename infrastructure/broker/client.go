// Package broker is the HTTP client for the external WhatsApp gateway.
// It only covers the media recovery surface: the first-chance fetch of a
// broker-announced URL and the broker-mediated re-download by key/path.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/leadengine/whatsapp-ingest/core/config"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
	"github.com/leadengine/whatsapp-ingest/usecase"
)

const maxMediaBytes = 64 << 20

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	fast    *fasthttp.Client
}

func New(cfg config.BrokerConfig) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		fast: &fasthttp.Client{
			ReadTimeout:  cfg.DirectTimeout,
			WriteTimeout: cfg.DirectTimeout,
		},
	}
}

// DownloadDirect fetches a broker-announced media URL. The deadline comes
// from the caller's context; these URLs are short-lived CDN links, so a
// failure here is normal and the caller falls back to DownloadMedia.
func (c *Client) DownloadDirect(ctx context.Context, url string) (*usecase.MediaPayload, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.fast.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, apperror.BrokerTimeoutError("direct media download timed out")
		}
		return nil, apperror.MediaDownloadError(fmt.Sprintf("direct media download failed: %v", err))
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, apperror.MediaDownloadError(fmt.Sprintf("direct media download returned %d", resp.StatusCode()))
	}

	body := resp.Body()
	if len(body) == 0 || len(body) > maxMediaBytes {
		return nil, apperror.MediaDownloadError(fmt.Sprintf("direct media download returned %d bytes", len(body)))
	}
	data := make([]byte, len(body))
	copy(data, body)

	return &usecase.MediaPayload{
		Data:     data,
		MimeType: string(resp.Header.ContentType()),
		FileName: fileNameFromDisposition(string(resp.Header.Peek(fasthttp.HeaderContentDisposition))),
	}, nil
}

type downloadRequest struct {
	InstanceID string `json:"instanceId,omitempty"`
	BrokerID   string `json:"brokerId,omitempty"`
	MessageID  string `json:"messageId"`
	MediaType  string `json:"mediaType"`
	MediaKey   string `json:"mediaKey,omitempty"`
	DirectPath string `json:"directPath,omitempty"`
}

// DownloadMedia asks the broker to re-download the media from WhatsApp
// servers by key and direct path. The broker answers with the raw body.
func (c *Client) DownloadMedia(ctx context.Context, req usecase.MediaDownloadRequest) (*usecase.MediaPayload, error) {
	if c.baseURL == "" {
		return nil, apperror.MediaDownloadError("broker url is not configured")
	}

	payload, err := json.Marshal(downloadRequest{
		InstanceID: req.InstanceID,
		BrokerID:   req.BrokerID,
		MessageID:  req.MessageID,
		MediaType:  req.MediaType,
		MediaKey:   req.MediaKey,
		DirectPath: req.DirectPath,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/media/download", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, apperror.BrokerTimeoutError("broker media download timed out")
		}
		return nil, apperror.MediaDownloadError(fmt.Sprintf("broker media download failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperror.MediaDownloadError(fmt.Sprintf("broker media download returned %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, apperror.MediaDownloadError(fmt.Sprintf("reading broker media body: %v", err))
	}
	if len(data) == 0 || len(data) > maxMediaBytes {
		return nil, apperror.MediaDownloadError(fmt.Sprintf("broker media body has %d bytes", len(data)))
	}

	return &usecase.MediaPayload{
		Data:     data,
		MimeType: resp.Header.Get("Content-Type"),
		FileName: fileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}, nil
}

func fileNameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
