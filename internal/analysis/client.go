package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// HTTPClient posts payloads as multipart/form-data to {BaseURL}/analyze.
type HTTPClient struct {
	BaseURL string
	c       *http.Client
	now     func() time.Time
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		c:       &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

func (h *HTTPClient) Submit(ctx context.Context, p Payload) (*Result, error) {
	body, contentType, err := encodeMultipart(p)
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/analyze", body)
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &SubmissionError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(b)),
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SubmissionError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if !json.Valid(raw) {
		return nil, &SubmissionError{Status: resp.StatusCode, Body: string(raw), Err: errors.New("response is not JSON")}
	}
	return &Result{Status: resp.StatusCode, Body: raw, ReceivedAt: h.now()}, nil
}

func encodeMultipart(p Payload) (io.Reader, string, error) {
	fields, err := p.Fields()
	if err != nil {
		return nil, "", err
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", err
		}
	}

	if p.Audio != nil && len(p.Audio.Data) > 0 {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="audio"; filename="interview.wav"`)
		hdr.Set("Content-Type", p.Audio.MediaType)
		fw, err := w.CreatePart(hdr)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(p.Audio.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &b, w.FormDataContentType(), nil
}
