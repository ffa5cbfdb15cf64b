package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// FileLocator resolves a Telegram file id to a download URL.
// *tgbotapi.BotAPI implements it.
type FileLocator interface {
	GetFileDirectURL(fileID string) (string, error)
}

// Files downloads files from the Telegram file storage
type Files struct {
	locator FileLocator
	http    *resty.Client
}

// NewFiles creates a downloader
func NewFiles(locator FileLocator, timeout time.Duration) *Files {
	return &Files{
		locator: locator,
		http:    resty.New().SetTimeout(timeout),
	}
}

// Fetch downloads the file with fileID
func (f *Files) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	url, err := f.locator.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}

	resp, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to download file %s: status %d", fileID, resp.StatusCode())
	}
	return resp.Body(), nil
}
