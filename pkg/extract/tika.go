package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
)

// TikaClient talks to an Apache Tika server.
type TikaClient struct {
	serverURL string
	client    *http.Client
}

// NewTikaClient creates a client for the given Tika server URL.
func NewTikaClient(serverURL string) *TikaClient {
	return &TikaClient{serverURL: serverURL, client: &http.Client{}}
}

// ExtractText sends the file to Tika and returns the extracted plain text.
// The MIME type is inferred from the file name.
func (c *TikaClient) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	contentType := detectMimeType(fileName)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", fileReader)
	if err != nil {
		return "", fmt.Errorf("failed to create tika request: %w", err)
	}

	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call tika: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("tika returned status %d: %s", resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", fmt.Errorf("failed to read tika response: %w", err)
	}
	return buf.String(), nil
}

// detectMimeType maps a file extension to a Content-Type.
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
