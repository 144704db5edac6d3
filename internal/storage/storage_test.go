package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestCleanKey(t *testing.T) {
	bad := []string{"", "/etc/passwd", "../x", "a/../../x", "..", `a\b`}
	for _, k := range bad {
		if _, err := cleanKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("cleanKey(%q): expected ErrInvalidKey, got %v", k, err)
		}
	}
	if got, err := cleanKey("kyc_documents/u/selfie/../selfie/x.jpg"); err != nil || got != "kyc_documents/u/selfie/x.jpg" {
		t.Fatalf("unexpected clean result %q %v", got, err)
	}
}

func exercise(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()
	key := "kyc_documents/u1/selfie/a.jpg"

	if err := store.Put(ctx, key, []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil || string(got) != "jpeg" {
		t.Fatalf("expected jpeg, got %q %v", got, err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestLocal(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	exercise(t, store)
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3(t *testing.T) {
	store, err := NewS3(&fakeS3{objects: map[string][]byte{}}, "kyc")
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	exercise(t, store)
}
