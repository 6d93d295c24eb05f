package catalog

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeModelList(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "model_list.json")
	data := `{
		"model_path": "models",
		"models": {
			"llama": {
				"8b": {
					"name": "Llama 3 8B",
					"url": "https://example.test/llama-8b",
					"files": ["config.json", "weights.flmw"],
					"flm_min_version": "0.1.0",
					"details": {"family": "llama", "parameter_size": "8B", "quantization_level": "Q4"}
				},
				"70b": {
					"name": "Llama 3 70B",
					"url": "https://example.test/llama-70b",
					"files": ["config.json", "weights.flmw"],
					"flm_min_version": "0.1.0",
					"details": {"family": "llama", "parameter_size": "70B", "quantization_level": "Q4"}
				}
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadParsesModelList(t *testing.T) {
	path := writeModelList(t, t.TempDir())
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "models", c.ModelPath)
	require.Len(t, c.Models["llama"], 2)
}

func TestResolveBareFamilyPicksFirstSize(t *testing.T) {
	c, err := Load(writeModelList(t, t.TempDir()))
	require.NoError(t, err)
	tag, entry, err := c.Resolve("llama")
	require.NoError(t, err)
	require.Equal(t, "70b", tag.Size)
	require.Equal(t, "Llama 3 70B", entry.Name)
}

func TestResolveExplicitSize(t *testing.T) {
	c, err := Load(writeModelList(t, t.TempDir()))
	require.NoError(t, err)
	tag, entry, err := c.Resolve("llama:8b")
	require.NoError(t, err)
	require.Equal(t, "8b", tag.Size)
	require.Equal(t, "Llama 3 8B", entry.Name)
}

func TestResolveUnknownFamilyErrors(t *testing.T) {
	c, err := Load(writeModelList(t, t.TempDir()))
	require.NoError(t, err)
	_, _, err = c.Resolve("nonexistent")
	require.Error(t, err)
}

func TestResolveUnknownSizeErrors(t *testing.T) {
	c, err := Load(writeModelList(t, t.TempDir()))
	require.NoError(t, err)
	_, _, err = c.Resolve("llama:1b")
	require.Error(t, err)
}

func TestIsInstalledRequiresConfigJSON(t *testing.T) {
	root := t.TempDir()
	tag := Tag{Family: "llama", Size: "8b"}
	require.False(t, IsInstalled(root, tag))

	dir := ModelDir(root, tag)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))
	require.True(t, IsInstalled(root, tag))
}

func TestListFiltersByInstalled(t *testing.T) {
	root := t.TempDir()
	c, err := Load(writeModelList(t, t.TempDir()))
	require.NoError(t, err)

	dir := ModelDir(root, Tag{Family: "llama", Size: "8b"})
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))

	installed := c.List(root, FilterInstalled)
	require.Len(t, installed, 1)
	require.Equal(t, "8b", installed[0].Tag.Size)

	notInstalled := c.List(root, FilterNotInstalled)
	require.Len(t, notInstalled, 1)
	require.Equal(t, "70b", notInstalled[0].Tag.Size)

	all := c.List(root, FilterAll)
	require.Len(t, all, 2)
}

func TestCheckMinVersionAcceptsOlderRequirement(t *testing.T) {
	require.NoError(t, CheckMinVersion("0.0.1"))
}

func TestCheckMinVersionRejectsNewerRequirement(t *testing.T) {
	err := CheckMinVersion("99.0.0")
	require.Error(t, err)
}

func TestPullDownloadsMissingFilesAndSkipsPresent(t *testing.T) {
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("file-bytes"))
	}))
	defer srv.Close()

	root := t.TempDir()
	tag := Tag{Family: "llama", Size: "8b"}
	entry := ModelEntry{URL: srv.URL + "/resolve/main", Files: []string{"config.json", "weights.flmw"}}

	dir := ModelDir(root, tag)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))

	d := NewDownloader(root)
	var progressed []Progress
	err := d.Pull(tag, entry, false, func(p Progress) { progressed = append(progressed, p) })
	require.NoError(t, err)

	require.Len(t, requested, 1, "only the missing file should be fetched")
	require.Len(t, progressed, 1)
	require.FileExists(t, filepath.Join(dir, "weights.flmw"))

	_, err = os.Stat(filepath.Join(dir, "weights.flmw.part"))
	require.True(t, os.IsNotExist(err), "successful download should not leave a .part file behind")
}

func TestPullForceRedownloadsEverything(t *testing.T) {
	var requested int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("file-bytes"))
	}))
	defer srv.Close()

	root := t.TempDir()
	tag := Tag{Family: "llama", Size: "8b"}
	entry := ModelEntry{URL: srv.URL + "/resolve/main", Files: []string{"config.json"}}

	dir := ModelDir(root, tag)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("stale"), 0o644))

	d := NewDownloader(root)
	require.NoError(t, d.Pull(tag, entry, true, nil))
	require.Equal(t, 1, requested)
}

func TestPullFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	root := t.TempDir()
	tag := Tag{Family: "llama", Size: "8b"}
	entry := ModelEntry{URL: srv.URL + "/resolve/main", Files: []string{"config.json"}}

	d := NewDownloader(root)
	err := d.Pull(tag, entry, false, nil)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(ModelDir(root, tag), "config.json.part"))
	require.True(t, os.IsNotExist(statErr), "a failed download should not leave a .part file behind")
}

func TestRemoveDeletesModelDirectory(t *testing.T) {
	root := t.TempDir()
	tag := Tag{Family: "llama", Size: "8b"}
	dir := ModelDir(root, tag)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))

	require.NoError(t, Remove(root, tag))
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestRemoveOnMissingDirectoryIsNoop(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Remove(root, Tag{Family: "ghost", Size: "1b"}))
}
