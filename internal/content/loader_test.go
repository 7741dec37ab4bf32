package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LoadFS

func TestLoadFS_Success(t *testing.T) {
	fsys := fstest.MapFS{
		"data/home.json":  &fstest.MapFile{Data: []byte(`{"title": "Hello"}`)},
		"data/about.json": &fstest.MapFile{Data: []byte(`{"body": "About"}`)},
		"data/extra.json": &fstest.MapFile{Data: []byte(`{"ignored": true}`)},
	}
	snap, err := LoadFS(fsys, SourceSeed, []string{"data/home.json", "data/about.json"})
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if got := snap.Paths(); len(got) != 2 || got[0] != "data/about.json" || got[1] != "data/home.json" {
		t.Fatalf("Paths = %v", got)
	}
	doc, ok := snap.Document("data/home.json")
	if !ok || doc.String("title") != "Hello" || doc.Source != SourceSeed {
		t.Fatalf("doc = %+v", doc)
	}
	if snap.Meta.Source != SourceSeed || len(snap.Meta.SHA256) != 64 {
		t.Fatalf("Meta = %+v", snap.Meta)
	}
	if snap.LoadedAt.IsZero() {
		t.Fatal("LoadedAt not set")
	}
}

func TestLoadFS_HashIsStable(t *testing.T) {
	fsys := fstest.MapFS{"data/home.json": &fstest.MapFile{Data: []byte(`{"title": "Hello"}`)}}
	a, err := LoadFS(fsys, SourceSeed, []string{"data/home.json"})
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	b, _ := LoadFS(fsys, SourceDisk, []string{"data/home.json"})
	if a.Meta.SHA256 != b.Meta.SHA256 {
		t.Fatal("same documents should hash the same")
	}

	fsys["data/home.json"] = &fstest.MapFile{Data: []byte(`{"title": "Changed"}`)}
	c, _ := LoadFS(fsys, SourceSeed, []string{"data/home.json"})
	if a.Meta.SHA256 == c.Meta.SHA256 {
		t.Fatal("changed documents should hash differently")
	}
}

func TestLoadFS_Failures(t *testing.T) {
	valid := fstest.MapFS{"data/home.json": &fstest.MapFile{Data: []byte(`{"title": "Hello"}`)}}
	tests := []struct {
		name  string
		fsys  fstest.MapFS
		paths []string
	}{
		{"no paths", valid, nil},
		{"missing document", valid, []string{"data/missing.json"}},
		{"malformed json", fstest.MapFS{"data/home.json": &fstest.MapFile{Data: []byte(`{"title":`)}}, []string{"data/home.json"}},
		{"not an object", fstest.MapFS{"data/home.json": &fstest.MapFile{Data: []byte(`[1, 2]`)}}, []string{"data/home.json"}},
		{"invalid path", valid, []string{"../home.json"}},
		{"oversized", fstest.MapFS{"data/home.json": &fstest.MapFile{Data: bytes.Repeat([]byte(" "), int(MaxDocumentSize)+1)}}, []string{"data/home.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFS(tt.fsys, SourceSeed, tt.paths); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := LoadFS(nil, SourceSeed, []string{"data/home.json"}); err == nil {
		t.Fatal("expected error for nil filesystem")
	}
}

// S3Loader

type fakeS3 struct {
	objects map[string]string
	keys    []string
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+key)
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestNewS3Loader_Validation(t *testing.T) {
	if _, err := NewS3Loader(S3LoaderOptions{Client: &fakeS3{}}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if _, err := NewS3Loader(S3LoaderOptions{Bucket: "b"}); err == nil {
		t.Fatal("expected error for missing client")
	}
}

func TestS3Loader_key(t *testing.T) {
	l := &S3Loader{opts: S3LoaderOptions{Prefix: "site/content"}}
	if got := l.key("data/home.json"); got != "site/content/data/home.json" {
		t.Fatalf("key = %q", got)
	}
	l = &S3Loader{opts: S3LoaderOptions{Prefix: "site/content/"}}
	if got := l.key("data/home.json"); got != "site/content/data/home.json" {
		t.Fatalf("key with trailing slash = %q", got)
	}
	l = &S3Loader{}
	if got := l.key("data/home.json"); got != "data/home.json" {
		t.Fatalf("key without prefix = %q", got)
	}
}

func TestS3Loader_LoadIntoManager(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"site/data/home.json": `{"title": "From S3"}`}}
	l, err := NewS3Loader(S3LoaderOptions{Bucket: "bucket", Prefix: "site", Client: client})
	if err != nil {
		t.Fatalf("NewS3Loader: %v", err)
	}
	m := NewManager()
	if err := l.LoadIntoManager(context.Background(), m, []string{"data/home.json"}); err != nil {
		t.Fatalf("LoadIntoManager: %v", err)
	}
	doc, ok := m.Document("data/home.json")
	if !ok || doc.String("title") != "From S3" || doc.Source != SourceS3 {
		t.Fatalf("doc = %+v", doc)
	}
	if m.Source() != SourceS3 {
		t.Fatalf("Source = %q", m.Source())
	}
	if len(client.keys) != 1 || client.keys[0] != "bucket/site/data/home.json" {
		t.Fatalf("requested keys = %v", client.keys)
	}
}

func TestS3Loader_Failures(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeS3
		paths  []string
	}{
		{"missing object", &fakeS3{objects: map[string]string{}}, []string{"data/home.json"}},
		{"client error", &fakeS3{err: errors.New("AccessDenied")}, []string{"data/home.json"}},
		{"malformed", &fakeS3{objects: map[string]string{"data/home.json": `nope`}}, []string{"data/home.json"}},
		{"invalid path", &fakeS3{}, []string{"/etc/passwd.json"}},
		{"no paths", &fakeS3{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewS3Loader(S3LoaderOptions{Bucket: "bucket", Client: tt.client})
			if err != nil {
				t.Fatalf("NewS3Loader: %v", err)
			}
			m := NewManager()
			if err := l.LoadIntoManager(context.Background(), m, tt.paths); err == nil {
				t.Fatal("expected error")
			}
			if m.ReadyErr() == nil {
				t.Fatal("failed load must not set a snapshot")
			}
		})
	}
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader(`{"title":"x"}`), 16)
	if err != nil || string(data) != `{"title":"x"}` {
		t.Fatalf("readLimited = %q, %v", data, err)
	}
	if _, err := readLimited(strings.NewReader(strings.Repeat("a", 17)), 16); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestSnapshotVersion_EverySource(t *testing.T) {
	fsys := fstest.MapFS{"data/home.json": &fstest.MapFile{Data: []byte(`{"title": "Hello"}`)}}
	for _, src := range []Source{SourceSeed, SourceDisk} {
		snap, err := LoadFS(fsys, src, []string{"data/home.json"})
		if err != nil {
			t.Fatalf("LoadFS(%s): %v", src, err)
		}
		if want := string(src) + "-" + snap.Meta.SHA256[:12]; snap.Meta.Version != want {
			t.Errorf("%s version = %q, want %q", src, snap.Meta.Version, want)
		}
	}

	l, _ := NewS3Loader(S3LoaderOptions{Bucket: "bucket", Client: &fakeS3{objects: map[string]string{"data/home.json": `{"title": "Hello"}`}}})
	m := NewManager()
	if err := l.LoadIntoManager(context.Background(), m, []string{"data/home.json"}); err != nil {
		t.Fatalf("LoadIntoManager: %v", err)
	}
	if want := "s3-" + m.ContentHash()[:12]; m.ContentVersion() != want {
		t.Errorf("s3 version = %q, want %q", m.ContentVersion(), want)
	}
}
