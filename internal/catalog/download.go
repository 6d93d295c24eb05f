package catalog

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flmrun/flm/internal/flmerr"
)

// Downloader fetches a tag's files into modelRoot over plain HTTP,
// grounded on the client package's http.Client-with-timeout pattern:
// one long-lived client; a non-2xx reply is reported by its status code
// alone (the response body is not read).
type Downloader struct {
	ModelRoot  string
	HTTPClient *http.Client
}

// NewDownloader builds a Downloader with a generous per-file timeout;
// model archives run into the gigabytes, so the limit is set well above
// what most transfers will ever approach.
func NewDownloader(modelRoot string) *Downloader {
	return &Downloader{
		ModelRoot:  modelRoot,
		HTTPClient: &http.Client{Timeout: 30 * time.Minute},
	}
}

// Progress reports pull progress after each file completes.
type Progress struct {
	File         string
	FilesDone    int
	FilesTotal   int
	BytesWritten int64
}

// MissingFiles reports which of entry's files are not yet present (or
// were left behind as a partial .part download) under modelRoot.
func MissingFiles(modelRoot string, t Tag, entry ModelEntry) []string {
	dir := ModelDir(modelRoot, t)
	var missing []string
	for _, name := range entry.Files {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// Pull downloads every missing file for t, skipping files already
// present the way the original downloader does — by filename, not by
// checksum. force re-downloads everything, removing the tag's
// directory first. Downloads land at <file>.part and are renamed into
// place only on success, so a download killed mid-transfer leaves no
// file that MissingFiles would mistake for complete; resuming is by
// restart, not by byte range.
func (d *Downloader) Pull(t Tag, entry ModelEntry, force bool, onProgress func(Progress)) error {
	dir := ModelDir(d.ModelRoot, t)
	if force {
		if err := Remove(d.ModelRoot, t); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return flmerr.Wrap(flmerr.DownloadFailure, "create model directory", err)
	}

	missing := MissingFiles(d.ModelRoot, t, entry)
	if len(missing) == 0 {
		return nil
	}

	for i, name := range missing {
		written, err := d.fetchFile(fileURL(entry.URL, name), filepath.Join(dir, name))
		if err != nil {
			return flmerr.Wrap(flmerr.DownloadFailure, fmt.Sprintf("download %s", name), err)
		}
		if onProgress != nil {
			onProgress(Progress{File: name, FilesDone: i + 1, FilesTotal: len(missing), BytesWritten: written})
		}
	}
	return nil
}

// fileURL appends name to a model's base URL, following a resolve/main
// form when the catalog URL doesn't already name a branch.
func fileURL(baseURL, name string) string {
	if strings.Contains(baseURL, "resolve") {
		return baseURL + "/" + name + "?download=true"
	}
	return baseURL + "/resolve/main/" + name + "?download=true"
}

func (d *Downloader) fetchFile(url, destPath string) (int64, error) {
	resp, err := d.HTTPClient.Get(url)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	partPath := destPath + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", partPath, err)
	}

	written, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("write %s: %w", partPath, copyErr)
	}
	if closeErr != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("close %s: %w", partPath, closeErr)
	}
	if err := os.Rename(partPath, destPath); err != nil {
		return 0, fmt.Errorf("rename %s: %w", partPath, err)
	}
	return written, nil
}

// Remove deletes a tag's entire model directory.
func Remove(modelRoot string, t Tag) error {
	dir := ModelDir(modelRoot, t)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return flmerr.Wrap(flmerr.DownloadFailure, "remove model directory", err)
	}
	return nil
}
