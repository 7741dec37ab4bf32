package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/linnemanlabs-editor/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

// opener returns the raw bytes of one document path and a description of
// where they came from for error messages.
type opener func(ctx context.Context, p string) (io.ReadCloser, string, error)

// loadAll reads and parses every path through open. Any failure fails the
// whole snapshot, a half published site is worse than none.
func loadAll(ctx context.Context, src Source, paths []string, open opener) (*Snapshot, error) {
	if len(paths) == 0 {
		return nil, xerrors.New("content: no document paths to load")
	}
	docs := make(map[string]*Document, len(paths))
	for _, p := range paths {
		if !ValidPath(p) || !fs.ValidPath(p) {
			return nil, xerrors.WithStack(fmt.Errorf("%w: %q", ErrInvalidPath, p))
		}
		rc, where, err := open(ctx, p)
		if err != nil {
			return nil, xerrors.Wrapf(err, "open %s", where)
		}
		raw, err := readLimited(rc, MaxDocumentSize)
		rc.Close()
		if err != nil {
			return nil, xerrors.Wrapf(err, "read %s", where)
		}
		doc, err := ParseDocument(p, raw, src)
		if err != nil {
			return nil, xerrors.WithStack(err)
		}
		docs[p] = doc
	}
	return newSnapshot(src, docs, time.Now().UTC()), nil
}

// newSnapshot stamps the snapshot hash and a version of the form
// "<source>-<short hash>", e.g. "s3-3f9a0c1d2e4b".
func newSnapshot(src Source, docs map[string]*Document, at time.Time) *Snapshot {
	sum := snapshotHash(docs)
	return &Snapshot{
		Docs: docs,
		Meta: Meta{
			Version:  string(src) + "-" + cryptoutil.Short(sum),
			SHA256:   sum,
			LoadedAt: at,
			Source:   src,
		},
		LoadedAt: at,
	}
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("document exceeds %d bytes", max)
	}
	return data, nil
}

// snapshotHash is the sha256 of "path sha\n" lines in path order.
func snapshotHash(docs map[string]*Document) string {
	h := sha256.New()
	for _, p := range (&Snapshot{Docs: docs}).Paths() {
		fmt.Fprintf(h, "%s %s\n", p, docs[p].SHA)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LoadFS builds a snapshot from fsys, used for the embedded seed and a
// content directory.
func LoadFS(fsys fs.FS, src Source, paths []string) (*Snapshot, error) {
	if fsys == nil {
		return nil, xerrors.New("content: nil filesystem")
	}
	return loadAll(context.Background(), src, paths, func(_ context.Context, p string) (io.ReadCloser, string, error) {
		f, err := fsys.Open(p)
		return f, fmt.Sprintf("%s document %s", src, p), err
	})
}

// S3GetObjectAPI is the part of the S3 client the loader calls.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3LoaderOptions struct {
	Logger log.Logger
	// documents live at s3://{Bucket}/{Prefix}/{path}
	Bucket string
	Prefix string
	Client S3GetObjectAPI
}

// S3Loader reads the published documents from an S3 prefix at startup.
type S3Loader struct {
	opts S3LoaderOptions
}

func NewS3Loader(opts S3LoaderOptions) (*S3Loader, error) {
	switch {
	case opts.Bucket == "":
		return nil, xerrors.New("content: S3 bucket is required")
	case opts.Client == nil:
		return nil, xerrors.New("content: S3 client is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &S3Loader{opts: opts}, nil
}

func (l *S3Loader) key(p string) string {
	if l.opts.Prefix == "" {
		return p
	}
	return path.Join(l.opts.Prefix, p)
}

func (l *S3Loader) Load(ctx context.Context, paths []string) (*Snapshot, error) {
	snap, err := loadAll(ctx, SourceS3, paths, func(ctx context.Context, p string) (io.ReadCloser, string, error) {
		key := l.key(p)
		where := "s3://" + l.opts.Bucket + "/" + key
		out, err := l.opts.Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.opts.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, where, err
		}
		return out.Body, where, nil
	})
	if err != nil {
		return nil, err
	}
	l.opts.Logger.Info(ctx, "loaded content from S3",
		"bucket", l.opts.Bucket,
		"prefix", l.opts.Prefix,
		"documents", len(snap.Docs),
		"content_version", snap.Meta.Version,
	)
	return snap, nil
}

// LoadIntoManager publishes the S3 snapshot, the manager is untouched on failure.
func (l *S3Loader) LoadIntoManager(ctx context.Context, mgr *Manager, paths []string) error {
	snap, err := l.Load(ctx, paths)
	if err != nil {
		return err
	}
	mgr.Set(*snap)
	return nil
}
