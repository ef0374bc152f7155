package mediastore

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leadengine/whatsapp-ingest/core/config"
)

func newTestStore(t *testing.T, secret string) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(config.MediaConfig{
		UploadsDir:     t.TempDir(),
		UploadsBaseURL: "/uploads",
		SignedURLTTL:   time.Hour,
		SignSecret:     secret,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutWritesFile(t *testing.T) {
	store := newTestStore(t, "")

	obj, err := store.Put(context.Background(), "t1", "wamid-1", "photo.jpg", "image/jpeg", []byte("jpegdata"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.URL != "/uploads/t1/wamid-1.jpg" {
		t.Fatalf("unexpected url %q", obj.URL)
	}
	data, err := os.ReadFile(obj.Path)
	if err != nil || string(data) != "jpegdata" {
		t.Fatalf("file content: %q err=%v", data, err)
	}
	if obj.ExpiresAt != nil {
		t.Fatal("unsigned store must not set expiry")
	}
}

func TestPutSignedURL(t *testing.T) {
	store := newTestStore(t, "secret")

	obj, err := store.Put(context.Background(), "t1", "wamid-1", "", "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.ExpiresAt == nil {
		t.Fatal("signed store must set expiry")
	}

	u, err := url.Parse(obj.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	exp, err := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	if err != nil {
		t.Fatalf("exp param: %v", err)
	}
	rel := strings.TrimPrefix(u.Path, "/uploads/")
	if !store.Verify(rel, u.Query().Get("sig"), exp) {
		t.Fatal("signature must verify")
	}
	if store.Verify(rel, u.Query().Get("sig"), exp+1) {
		t.Fatal("tampered expiry must fail")
	}
	if store.Verify(rel, "deadbeef", exp) {
		t.Fatal("bad signature must fail")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	store := newTestStore(t, "secret")
	exp := time.Now().UTC().Add(-time.Minute).Unix()
	if store.Verify("t1/x.png", store.sign("t1/x.png", exp), exp) {
		t.Fatal("expired signature must fail")
	}
}

func TestResolveRefusesTraversal(t *testing.T) {
	store := newTestStore(t, "")

	if _, err := store.Resolve("../../etc/passwd"); err == nil {
		t.Fatal("expected traversal rejection")
	}
	if _, err := store.Resolve("t1/file.jpg"); err != nil {
		t.Fatalf("plain path must resolve: %v", err)
	}
}

func TestPutOverwriteOnRetry(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()

	if _, err := store.Put(ctx, "t1", "wamid-1", "a.jpg", "image/jpeg", []byte("v1")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	obj, err := store.Put(ctx, "t1", "wamid-1", "a.jpg", "image/jpeg", []byte("v2"))
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	data, _ := os.ReadFile(obj.Path)
	if string(data) != "v2" {
		t.Fatalf("retry must overwrite, got %q", data)
	}
}
