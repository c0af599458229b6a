package compositor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	ErrComposition        = errors.New("signature composition failed")
	ErrCompositionTimeout = errors.New("signature composition timed out")
)

// annotation is the wire shape the rasterization service expects. Pages are
// 0-based on the wire; Block uses 1-based pages like the rest of the system.
type annotation struct {
	Page   int      `json:"page"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Lines  []string `json:"lines"`
}

// Client calls the external rasterization boundary. Timeouts are retried up
// to Retries extra attempts with linear backoff; any other failure aborts
// immediately. The service is not idempotent across retries, so callers must
// not blindly resubmit after an ambiguous outcome.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	retries int
	logger  *zap.Logger
}

// NewClient constructs a compositor client.
func NewClient(baseURL string, timeout time.Duration, retries int, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: timeout,
		retries: retries,
		logger:  logger,
	}
}

// Submit sends the working PDF, the signer's signature image, and the block
// annotations; it returns the composited PDF bytes. The raw error body from
// the service is logged, never returned, because it may carry internal
// diagnostics.
func (c *Client) Submit(ctx context.Context, pdfBytes, signatureImage []byte, blocks []Block) ([]byte, error) {
	body, contentType, err := encodeRequest(pdfBytes, signatureImage, blocks)
	if err != nil {
		return nil, fmt.Errorf("encode composition request: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		out, err := c.attempt(ctx, body, contentType)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrCompositionTimeout) {
			return nil, err
		}
		c.logger.Warn("composition attempt timed out",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, body []byte, contentType string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/compose", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrComposition, err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		// The caller giving up is not a service timeout; hand the
		// cancellation back without dressing it up as retryable.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrCompositionTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrComposition, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("composition service rejected request",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", diag))
		return nil, fmt.Errorf("%w: status %d", ErrComposition, resp.StatusCode)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrComposition, err)
	}
	return out, nil
}

func encodeRequest(pdfBytes, signatureImage []byte, blocks []Block) ([]byte, string, error) {
	annotations := make([]annotation, 0, len(blocks))
	for _, b := range blocks {
		annotations = append(annotations, annotation{
			Page:   b.Page - 1,
			X:      b.X,
			Y:      b.Y,
			Width:  b.Width,
			Height: b.Height,
			Lines:  b.Lines,
		})
	}
	meta, err := json.Marshal(annotations)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("annotations", string(meta)); err != nil {
		return nil, "", err
	}
	pdfPart, err := mw.CreateFormFile("pdf", "document.pdf")
	if err != nil {
		return nil, "", err
	}
	if _, err := pdfPart.Write(pdfBytes); err != nil {
		return nil, "", err
	}
	sigPart, err := mw.CreateFormFile("signature", "signature.png")
	if err != nil {
		return nil, "", err
	}
	if _, err := sigPart.Write(signatureImage); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
