package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "generated/images/a/image.png", want: "generated/images/a/image.png"},
		{in: "/generated//images/./a/image.png", want: "generated/images/a/image.png"},
		{in: `generated\images\a\image.png`, want: "generated/images/a/image.png"},
		{in: "../secrets", wantErr: true},
		{in: "generated/../../secrets", wantErr: true},
		{in: "..", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tc := range tests {
		got, err := sanitizeKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("sanitizeKey(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestImageKey(t *testing.T) {
	key, err := ImageKey("sess-1", "image/jpeg")
	if err != nil {
		t.Fatalf("ImageKey error: %v", err)
	}
	if key != "generated/images/sess-1/image.jpg" {
		t.Fatalf("key = %q", key)
	}
	key, err = ImageKey("sess-1", "")
	if err != nil || key != "generated/images/sess-1/image.png" {
		t.Fatalf("default key = %q (%v)", key, err)
	}
	if _, err := ImageKey("../x", "image/png"); err == nil {
		t.Fatalf("expected error for traversal in session")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	key, err := store.Put(context.Background(), "generated/images/s/image.png", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "generated", "images", "s", "image.png")); err != nil {
		t.Fatalf("file not written: %v", err)
	}
	data, ct, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(data) != "png-bytes" || ct != "image/png" {
		t.Fatalf("Get = %q %q", data, ct)
	}
	if _, _, err := store.Get(context.Background(), "generated/images/missing/image.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreOverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	for _, body := range []string{"first", "second"} {
		if _, err := store.Put(context.Background(), "generated/images/s/image.png", []byte(body), "image/png"); err != nil {
			t.Fatalf("Put error: %v", err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(dir, "generated", "images", "s"))
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "image.png" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("directory entries = %v", names)
	}
	data, _, err := store.Get(context.Background(), "generated/images/s/image.png")
	if err != nil || string(data) != "second" {
		t.Fatalf("Get = %q, %v", data, err)
	}
}

func TestFileStoreRejectsCanceledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, "a.png", []byte("x"), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type stubObjectAPI struct {
	exists     bool
	made       bool
	putBucket  string
	putKey     string
	putBody    []byte
	putOptions minio.PutObjectOptions
}

func (s *stubObjectAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return s.exists, nil
}

func (s *stubObjectAPI) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	s.made = true
	return nil
}

func (s *stubObjectAPI) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	s.putBucket, s.putKey, s.putBody, s.putOptions = bucketName, objectName, body, opts
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func (s *stubObjectAPI) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not implemented")
}

func TestObjectStorePut(t *testing.T) {
	api := &stubObjectAPI{}
	store := &ObjectStore{client: api, bucket: "images"}
	key, err := store.Put(context.Background(), "/generated/images/s/image.jpg", []byte("jpeg"), "")
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if key != "generated/images/s/image.jpg" || api.putKey != key || api.putBucket != "images" {
		t.Fatalf("uploaded to %s/%s, returned %q", api.putBucket, api.putKey, key)
	}
	if api.putOptions.ContentType != "image/jpeg" {
		t.Fatalf("content type = %q", api.putOptions.ContentType)
	}
	if string(api.putBody) != "jpeg" {
		t.Fatalf("body = %q", api.putBody)
	}
}

func TestObjectStoreEnsureBucket(t *testing.T) {
	api := &stubObjectAPI{exists: true}
	store := &ObjectStore{client: api, bucket: "images"}
	if err := store.EnsureBucket(context.Background()); err != nil || api.made {
		t.Fatalf("existing bucket: err=%v made=%v", err, api.made)
	}
	api.exists = false
	if err := store.EnsureBucket(context.Background()); err != nil || !api.made {
		t.Fatalf("missing bucket: err=%v made=%v", err, api.made)
	}
}

func TestNewObjectStoreValidatesOptions(t *testing.T) {
	if _, err := NewObjectStore(ObjectOptions{Bucket: "b"}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
	if _, err := NewObjectStore(ObjectOptions{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
	store, err := NewObjectStore(ObjectOptions{Endpoint: "localhost:9000", Bucket: "images"})
	if err != nil {
		t.Fatalf("NewObjectStore error: %v", err)
	}
	if store.Bucket() != "images" {
		t.Fatalf("bucket = %q", store.Bucket())
	}
}
