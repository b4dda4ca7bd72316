package wakeword

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ohf-voice/go-satellite/internal/httpc"
	"github.com/ohf-voice/go-satellite/internal/log"
)

// ExternalModel describes a downloadable wake-word model. Size and SHA256
// let the satellite skip downloads that are already on disk.
type ExternalModel struct {
	ID       string `json:"id"`
	Phrase   string `json:"wake_word"`
	URL      string `json:"model_url"`
	Size     int64  `json:"model_size"`
	SHA256   string `json:"model_hash"`
	Author   string `json:"author,omitempty"`
	Homepage string `json:"homepage,omitempty"`
}

// Download fetches the model into dir and returns the local path. When a
// file with the expected size and checksum already exists it is reused
// without touching the network.
func Download(dir string, m ExternalModel, client *http.Client) (string, error) {
	if m.URL == "" {
		return "", fmt.Errorf("model %s: no url", m.ID)
	}
	if client == nil {
		client = httpc.Client
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("model dir: %w", err)
	}

	dest := filepath.Join(dir, m.ID+filepath.Ext(m.URL))
	if verifyLocal(dest, m) {
		log.Debug("model already downloaded", "id", m.ID, "path", dest)
		return dest, nil
	}

	resp, err := client.Get(m.URL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", m.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %s", m.ID, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, m.ID+".*.part")
	if err != nil {
		return "", fmt.Errorf("download %s: %w", m.ID, err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download %s: %w", m.ID, err)
	}

	if m.Size > 0 && size != m.Size {
		return "", fmt.Errorf("download %s: size %d, want %d", m.ID, size, m.Size)
	}
	if m.SHA256 != "" {
		if sum := hex.EncodeToString(hasher.Sum(nil)); sum != m.SHA256 {
			return "", fmt.Errorf("download %s: checksum mismatch", m.ID)
		}
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("download %s: %w", m.ID, err)
	}
	log.Info("model downloaded", "id", m.ID, "bytes", size, "path", dest)
	return dest, nil
}

// verifyLocal reports whether dest already matches the expected size and
// checksum. With no expectations set, any existing file counts.
func verifyLocal(dest string, m ExternalModel) bool {
	info, err := os.Stat(dest)
	if err != nil {
		return false
	}
	if m.Size > 0 && info.Size() != m.Size {
		return false
	}
	if m.SHA256 != "" {
		f, err := os.Open(dest)
		if err != nil {
			return false
		}
		defer f.Close()
		hasher := sha256.New()
		if _, err := io.Copy(hasher, f); err != nil {
			return false
		}
		if hex.EncodeToString(hasher.Sum(nil)) != m.SHA256 {
			return false
		}
	}
	return true
}
