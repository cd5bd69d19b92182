package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// mockS3Client implements S3API for testing.
type mockS3Client struct {
	objects map[string][]byte
	inputs  map[string]*s3.PutObjectInput
	headErr error
	putErr  error
	puts    int
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		objects: make(map[string][]byte),
		inputs:  make(map[string]*s3.PutObjectInput),
	}
}

func (m *mockS3Client) HeadObject(_ context.Context, input *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	if _, ok := m.objects[*input.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.puts++
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*input.Key] = data
	m.inputs[*input.Key] = input
	return &s3.PutObjectOutput{}, nil
}

func stagedObject(t *testing.T, name, content string) Object {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return Object{
		Name:     name,
		Path:     p,
		Size:     int64(len(content)),
		MimeType: "video/mp2t",
		SHA256:   "abc123",
	}
}

func TestS3Store_Upload(t *testing.T) {
	mock := newMockS3Client()
	store := NewS3StoreWithClient(mock, "dashcam", "locked/")
	obj := stagedObject(t, "20240101120000.TS", "\x47video")

	res, err := store.Upload(context.Background(), obj)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.Skipped {
		t.Error("Upload() reported Skipped for a new object")
	}
	if res.Location != "s3://dashcam/locked/20240101120000.TS" {
		t.Errorf("Location = %q", res.Location)
	}

	key := "locked/20240101120000.TS"
	if string(mock.objects[key]) != "\x47video" {
		t.Errorf("stored content = %q", mock.objects[key])
	}
	in := mock.inputs[key]
	if *in.ContentType != "video/mp2t" {
		t.Errorf("ContentType = %q, want video/mp2t", *in.ContentType)
	}
	if *in.ContentLength != 6 {
		t.Errorf("ContentLength = %d, want 6", *in.ContentLength)
	}
	if in.Metadata["sha256"] != "abc123" {
		t.Errorf("Metadata = %v", in.Metadata)
	}
}

func TestS3Store_SkipIfExists(t *testing.T) {
	mock := newMockS3Client()
	mock.objects["20240101120000.TS"] = []byte("already there")
	store := NewS3StoreWithClient(mock, "dashcam", "")

	res, err := store.Upload(context.Background(), stagedObject(t, "20240101120000.TS", "new"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !res.Skipped {
		t.Error("Upload() should skip an existing object")
	}
	if mock.puts != 0 {
		t.Errorf("PutObject called %d times, want 0", mock.puts)
	}
	if string(mock.objects["20240101120000.TS"]) != "already there" {
		t.Error("existing object was overwritten")
	}
}

func TestS3Store_NotFoundFromHTTPStatus(t *testing.T) {
	mock := newMockS3Client()
	mock.headErr = &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
			Err:      errors.New("not found"),
		},
	}
	store := NewS3StoreWithClient(mock, "dashcam", "")

	res, err := store.Upload(context.Background(), stagedObject(t, "20240101120000.TS", "x"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.Skipped || mock.puts != 1 {
		t.Errorf("Upload() = %+v with %d puts, want one transfer", res, mock.puts)
	}
}

func TestS3Store_Errors(t *testing.T) {
	t.Run("head failure is not treated as missing", func(t *testing.T) {
		mock := newMockS3Client()
		mock.headErr = errors.New("AccessDenied")
		store := NewS3StoreWithClient(mock, "dashcam", "")

		if _, err := store.Upload(context.Background(), stagedObject(t, "a.TS", "x")); err == nil {
			t.Fatal("Upload() expected error")
		}
		if mock.puts != 0 {
			t.Errorf("PutObject called %d times after failed HeadObject", mock.puts)
		}
	})

	t.Run("put failure", func(t *testing.T) {
		mock := newMockS3Client()
		mock.putErr = errors.New("RequestTimeout")
		store := NewS3StoreWithClient(mock, "dashcam", "")

		_, err := store.Upload(context.Background(), stagedObject(t, "a.TS", "x"))
		if err == nil || !errors.Is(err, mock.putErr) {
			t.Errorf("Upload() error = %v, want wrapped put error", err)
		}
	})

	t.Run("missing local file", func(t *testing.T) {
		store := NewS3StoreWithClient(newMockS3Client(), "dashcam", "")
		obj := Object{Name: "a.TS", Path: filepath.Join(t.TempDir(), "gone")}
		if _, err := store.Upload(context.Background(), obj); err == nil {
			t.Error("Upload() expected error for missing staged file")
		}
	})
}
