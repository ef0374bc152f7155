// Package mediastore persists downloaded media bodies on local disk and
// issues the URLs the frontend uses to fetch them. When a signing secret
// is configured the URLs carry an HMAC and an expiry.
package mediastore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadengine/whatsapp-ingest/core/config"
	"github.com/leadengine/whatsapp-ingest/domains/media"
)

type DiskStore struct {
	dir     string
	baseURL string
	secret  []byte
	ttl     time.Duration
}

func NewDiskStore(cfg config.MediaConfig) (*DiskStore, error) {
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating uploads dir: %w", err)
	}
	store := &DiskStore{
		dir:     cfg.UploadsDir,
		baseURL: strings.TrimSuffix(cfg.UploadsBaseURL, "/"),
		ttl:     cfg.SignedURLTTL,
	}
	if cfg.SignSecret != "" {
		store.secret = []byte(cfg.SignSecret)
	}
	return store, nil
}

// Put writes the body under <dir>/<tenant>/<message><ext> and returns
// the public URL. Existing files are overwritten; a retry that downloads
// the same media twice must not fail.
func (s *DiskStore) Put(_ context.Context, tenantID, messageID, fileName, mimeType string, data []byte) (*media.Object, error) {
	tenantDir := filepath.Join(s.dir, sanitize(tenantID))
	if err := os.MkdirAll(tenantDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating tenant dir: %w", err)
	}

	name := sanitize(messageID)
	if name == "" {
		name = uuid.NewString()
	}
	if ext := extensionFor(fileName, mimeType); ext != "" {
		name += ext
	}

	path := filepath.Join(tenantDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing media file: %w", err)
	}

	rel := sanitize(tenantID) + "/" + name
	obj := &media.Object{
		URL:      s.baseURL + "/" + rel,
		Path:     path,
		MimeType: mimeType,
		FileName: fileName,
		Size:     int64(len(data)),
	}
	if s.secret != nil {
		expires := time.Now().UTC().Add(s.ttl)
		obj.URL = fmt.Sprintf("%s?exp=%d&sig=%s", obj.URL, expires.Unix(), s.sign(rel, expires.Unix()))
		obj.ExpiresAt = &expires
	}
	return obj, nil
}

// Verify checks the signature and expiry of a signed media path. Always
// true when no signing secret is configured.
func (s *DiskStore) Verify(rel, sig string, exp int64) bool {
	if s.secret == nil {
		return true
	}
	if exp < time.Now().UTC().Unix() {
		return false
	}
	expected := s.sign(rel, exp)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// Resolve maps a relative URL path onto the backing file, refusing
// traversal outside the uploads dir.
func (s *DiskStore) Resolve(rel string) (string, error) {
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("path escapes uploads dir")
	}
	clean := filepath.Clean("/" + rel)
	path := filepath.Join(s.dir, clean)
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(s.dir)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes uploads dir")
	}
	return abs, nil
}

func (s *DiskStore) sign(rel string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(rel))
	mac.Write([]byte("\n"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func extensionFor(fileName, mimeType string) string {
	if ext := filepath.Ext(fileName); ext != "" && len(ext) <= 8 {
		return ext
	}
	if mimeType == "" {
		return ""
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// sanitize keeps file and directory names flat and url-safe.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
