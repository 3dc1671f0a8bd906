package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"parkinson-voice/pkg/bundle"
	"parkinson-voice/pkg/bundle/bundletest"
)

// fakeRemote serves bundles from memory and counts fetches.
type fakeRemote struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	gate    chan struct{}
	started chan struct{}
	calls   atomic.Int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: make(map[string][]byte)}
}

func (r *fakeRemote) Fetch(ctx context.Context, name string) ([]byte, error) {
	r.calls.Add(1)
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.objects[name]
	if !ok {
		return nil, fmt.Errorf("fake: %s: %w", name, os.ErrNotExist)
	}
	return data, nil
}

func encoded(t *testing.T) []byte {
	t.Helper()
	data, err := bundle.Encode(bundletest.Fusion(), bundle.Msgpack)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func entries(t *testing.T, dir string) int {
	t.Helper()
	list, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("ReadDir: %v", err)
	}
	return len(list)
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if !errors.Is(err, ErrArtifactUnavailable) {
		t.Fatalf("err = %v, want ErrArtifactUnavailable", err)
	}
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %T, want *Error", err)
	}
	if aerr.Kind != kind {
		t.Errorf("kind = %s, want %s", aerr.Kind, kind)
	}
}

func TestResolveLocal(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fusion.msgpack"), encoded(t), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(Options{Dir: dir})

	b, err := s.Resolve(context.Background(), "fusion.msgpack")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Kind != bundle.KindFusion {
		t.Errorf("kind = %q", b.Kind)
	}
	cached, ok := s.Cached("fusion.msgpack")
	if !ok || cached != b {
		t.Error("bundle not cached")
	}
}

func TestResolveAbsentWithoutRemote(t *testing.T) {
	dir := t.TempDir()
	s := New(Options{Dir: dir})

	_, err := s.Resolve(context.Background(), "missing.msgpack")
	wantKind(t, err, KindAbsent)

	var aerr *Error
	errors.As(err, &aerr)
	if aerr.Retryable() {
		t.Error("absent error reported retryable")
	}
	if _, ok := s.Cached("missing.msgpack"); ok {
		t.Error("failure was cached")
	}
	if n := entries(t, dir); n != 0 {
		t.Errorf("dir has %d entries, want 0", n)
	}
}

func TestResolveRemoteWriteThrough(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	remote := newFakeRemote()
	remote.objects["fusion.msgpack"] = encoded(t)

	s := New(Options{Dir: dir, Remote: remote})
	if _, err := s.Resolve(context.Background(), "fusion.msgpack"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fusion.msgpack")); err != nil {
		t.Fatalf("bundle not written through: %v", err)
	}
	if n := entries(t, dir); n != 1 {
		t.Errorf("dir has %d entries, want 1 (no temp files)", n)
	}

	// A fresh store without a remote now finds it locally.
	local := New(Options{Dir: dir})
	if _, err := local.Resolve(context.Background(), "fusion.msgpack"); err != nil {
		t.Fatalf("local Resolve: %v", err)
	}
}

func TestResolveRemoteFailures(t *testing.T) {
	tests := []struct {
		name    string
		objects map[string][]byte
		err     error
		want    Kind
	}{
		{name: "not found", want: KindAbsent},
		{name: "transport", err: errors.New("connection reset"), want: KindTransient},
		{name: "corrupt", objects: map[string][]byte{"fusion.msgpack": []byte("garbage")}, want: KindCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			remote := newFakeRemote()
			remote.err = tt.err
			for k, v := range tt.objects {
				remote.objects[k] = v
			}
			s := New(Options{Dir: dir, Remote: remote})

			_, err := s.Resolve(context.Background(), "fusion.msgpack")
			wantKind(t, err, tt.want)
			if n := entries(t, dir); n != 0 {
				t.Errorf("dir has %d entries, want 0", n)
			}
			if _, ok := s.Cached("fusion.msgpack"); ok {
				t.Error("failure was cached")
			}
		})
	}
}

func TestTransientIsRetried(t *testing.T) {
	remote := newFakeRemote()
	remote.err = errors.New("timeout")
	s := New(Options{Dir: t.TempDir(), Remote: remote})

	_, err := s.Resolve(context.Background(), "fusion.msgpack")
	var aerr *Error
	if !errors.As(err, &aerr) || !aerr.Retryable() {
		t.Fatalf("err = %v, want retryable", err)
	}

	remote.err = nil
	remote.objects["fusion.msgpack"] = encoded(t)
	if _, err := s.Resolve(context.Background(), "fusion.msgpack"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := remote.calls.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestRefreshReplacesCorruptLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fusion.msgpack")
	if err := os.WriteFile(path, []byte{0xc1}, 0o644); err != nil {
		t.Fatal(err)
	}
	remote := newFakeRemote()
	remote.objects["fusion.msgpack"] = encoded(t)
	s := New(Options{Dir: dir, Remote: remote})

	_, err := s.Resolve(context.Background(), "fusion.msgpack")
	wantKind(t, err, KindCorrupt)
	if !errors.Is(err, bundle.ErrCorrupt) {
		t.Errorf("err = %v, want wrapped bundle.ErrCorrupt", err)
	}
	if remote.calls.Load() != 0 {
		t.Error("corrupt local copy should not trigger a silent download")
	}

	if _, err := s.Refresh(context.Background(), "fusion.msgpack"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := New(Options{Dir: dir}).Resolve(context.Background(), "fusion.msgpack"); err != nil {
		t.Errorf("local copy still unusable after refresh: %v", err)
	}
}

func TestResolveSingleFlight(t *testing.T) {
	remote := newFakeRemote()
	remote.objects["fusion.msgpack"] = encoded(t)
	remote.gate = make(chan struct{})
	remote.started = make(chan struct{}, 64)
	s := New(Options{Dir: t.TempDir(), Remote: remote})

	const n = 16
	var wg sync.WaitGroup
	results := make([]*bundle.Bundle, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.Resolve(context.Background(), "fusion.msgpack")
		}()
	}

	<-remote.started
	time.Sleep(20 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	if got := remote.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Resolve[%d]: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("Resolve[%d] returned a different bundle", i)
		}
	}
}

func TestResolveCallerCancel(t *testing.T) {
	remote := newFakeRemote()
	remote.objects["fusion.msgpack"] = encoded(t)
	remote.gate = make(chan struct{})
	s := New(Options{Dir: t.TempDir(), Remote: remote})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Resolve(ctx, "fusion.msgpack"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	close(remote.gate)
}

func TestPreload(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.msgpack", "b.msgpack"} {
		if err := os.WriteFile(filepath.Join(dir, name), encoded(t), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := New(Options{Dir: dir})
	if err := s.Preload(context.Background(), "a.msgpack", "b.msgpack"); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if _, ok := s.Cached("b.msgpack"); !ok {
		t.Error("b not cached")
	}
	if err := s.Preload(context.Background(), "a.msgpack", "c.msgpack"); !errors.Is(err, ErrArtifactUnavailable) {
		t.Errorf("Preload err = %v, want ErrArtifactUnavailable", err)
	}
}

func TestInvalidName(t *testing.T) {
	s := New(Options{Dir: t.TempDir(), Remote: newFakeRemote()})
	for _, name := range []string{"", "..", "../etc/passwd", `a\b`} {
		_, err := s.Resolve(context.Background(), name)
		wantKind(t, err, KindAbsent)
	}
}

type urlSigner struct{ base string }

func (s urlSigner) SignURL(_ context.Context, name string) (string, error) {
	return s.base + "/" + name, nil
}

func TestSignedRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.msgpack":
			w.Write([]byte("payload"))
		case "/broken.msgpack":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/private.msgpack":
			http.Error(w, "AccessDenied", http.StatusForbidden)
		case "/huge.msgpack":
			w.Write(make([]byte, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewSignedRemote(urlSigner{base: srv.URL}, srv.Client())

	data, err := r.Fetch(context.Background(), "ok.msgpack")
	if err != nil || string(data) != "payload" {
		t.Fatalf("Fetch ok = %q, %v", data, err)
	}
	if _, err := r.Fetch(context.Background(), "gone.msgpack"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("404 err = %v, want os.ErrNotExist", err)
	}
	_, err = r.Fetch(context.Background(), "broken.msgpack")
	if err == nil || errors.Is(err, os.ErrNotExist) {
		t.Errorf("500 err = %v, want transient error", err)
	}
	if _, err := r.Fetch(context.Background(), "private.msgpack"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("403 err = %v, want os.ErrNotExist", err)
	}

	r.maxBytes = 32
	if _, err := r.Fetch(context.Background(), "huge.msgpack"); err == nil {
		t.Error("oversized download succeeded")
	}
	if data, err := r.Fetch(context.Background(), "ok.msgpack"); err != nil || string(data) != "payload" {
		t.Errorf("small download under cap = %q, %v", data, err)
	}
}

func TestForbiddenRemoteIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()

	s := New(Options{Dir: t.TempDir(), Remote: NewSignedRemote(urlSigner{base: srv.URL}, srv.Client())})
	_, err := s.Resolve(context.Background(), "audio.msgpack")
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindAbsent || aerr.Retryable() {
		t.Fatalf("err = %v, want non-retryable absent", err)
	}
}

type fakePresigner struct{ key string }

func (p *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	p.key = *in.Key
	return &v4.PresignedHTTPRequest{URL: "https://example.invalid/" + *in.Bucket + "/" + *in.Key, Method: http.MethodGet}, nil
}

func TestS3Signer(t *testing.T) {
	p := &fakePresigner{}
	s := NewS3Signer(p, "models", "bundles/v1", 0)

	url, err := s.SignURL(context.Background(), "audio.msgpack")
	if err != nil {
		t.Fatalf("SignURL: %v", err)
	}
	if p.key != "bundles/v1/audio.msgpack" {
		t.Errorf("key = %q", p.key)
	}
	if url != "https://example.invalid/models/bundles/v1/audio.msgpack" {
		t.Errorf("url = %q", url)
	}
}

func TestNewS3RemoteDisabled(t *testing.T) {
	tests := []S3Config{
		{},
		{Bucket: "models"},
		{Bucket: "models", AccessKeyID: "id"},
		{AccessKeyID: "id", SecretAccessKey: "secret"},
	}
	for _, cfg := range tests {
		r, err := NewS3Remote(context.Background(), cfg, nil)
		if err != nil || r != nil {
			t.Errorf("NewS3Remote(%+v) = %v, %v; want nil, nil", cfg, r, err)
		}
	}
}

func TestNewS3RemoteEnabled(t *testing.T) {
	cfg := S3Config{Bucket: "models", Region: "eu-west-1", AccessKeyID: "id", SecretAccessKey: "secret"}
	r, err := NewS3Remote(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewS3Remote: %v", err)
	}
	if r == nil {
		t.Fatal("remote is nil")
	}
}
