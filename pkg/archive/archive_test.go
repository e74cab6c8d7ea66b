package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakePutter struct {
	mu    sync.Mutex
	puts  []*s3.PutObjectInput
	fails int
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("slow down")
	}
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestArchive(t *testing.T) {
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, gotAuth = r.BasicAuth()
		if r.URL.Path != "/rec/RE1.mp3" {
			t.Errorf("path=%q, want /rec/RE1.mp3 (mp3 suffix added)", r.URL.Path)
		}
		_, _ = w.Write([]byte("ID3fakemp3"))
	}))
	defer srv.Close()

	putter := &fakePutter{}
	a := New(putter, Options{
		Bucket:     "voice-assistant-recordings",
		AccountSID: "AC123",
		AuthToken:  "secret",
		RetryDelay: time.Millisecond,
	})

	url, err := a.Archive(context.Background(), "CA1", srv.URL+"/rec/RE1")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if url != "s3://voice-assistant-recordings/recordings/CA1.mp3" {
		t.Fatalf("url=%q", url)
	}
	if !gotAuth {
		t.Fatalf("download request carried no basic auth")
	}

	putter.mu.Lock()
	defer putter.mu.Unlock()
	if len(putter.puts) != 1 {
		t.Fatalf("puts=%d, want 1", len(putter.puts))
	}
	put := putter.puts[0]
	if *put.Key != "recordings/CA1.mp3" {
		t.Fatalf("key=%q", *put.Key)
	}
	if *put.ContentType != "audio/mpeg" {
		t.Fatalf("content type=%q", *put.ContentType)
	}
	if put.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("encryption=%q", put.ServerSideEncryption)
	}
	body, _ := io.ReadAll(put.Body)
	if string(body) != "ID3fakemp3" {
		t.Fatalf("body=%q", body)
	}
}

func TestArchiveRetriesUntilReady(t *testing.T) {
	// Recordings often 404 right after the status callback fires.
	var mu sync.Mutex
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		n := requests
		mu.Unlock()
		if n < 3 {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ID3"))
	}))
	defer srv.Close()

	a := New(&fakePutter{}, Options{Bucket: "b", Attempts: 3, RetryDelay: time.Millisecond})
	if _, err := a.Archive(context.Background(), "CA1", srv.URL+"/rec/RE1"); err != nil {
		t.Fatalf("archive after retries: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != 3 {
		t.Fatalf("download attempts=%d, want 3", requests)
	}
}

func TestArchiveGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	a := New(&fakePutter{}, Options{Bucket: "b", Attempts: 2, RetryDelay: time.Millisecond})
	if _, err := a.Archive(context.Background(), "CA1", srv.URL+"/rec/RE1"); err == nil {
		t.Fatalf("want error after exhausting attempts")
	}
}
