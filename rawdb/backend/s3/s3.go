package s3

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cristalhq/hedgedhttp"
	gkLog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/pkg/util/log"
	"github.com/adlake/adlake/rawdb/backend"
	"github.com/adlake/adlake/rawdb/backend/instrumentation"
)

const errCodeNoSuchKey = "NoSuchKey"

// Backend reads and writes raw runs against an S3-compatible object store.
// Metadata objects are the commit markers; payload bytes are buffered to a
// local scratch file and uploaded only on finalize.
type Backend struct {
	logger     gkLog.Logger
	cfg        *Config
	core       *minio.Core
	hedgedCore *minio.Core
}

var _ backend.RawSink = (*Backend)(nil)

type overrideSignatureVersion struct {
	upstream credentials.Provider
	useV2    bool
}

func (s *overrideSignatureVersion) Retrieve() (credentials.Value, error) {
	v, err := s.upstream.Retrieve()
	if err != nil {
		return v, err
	}

	if s.useV2 && !v.SignerType.IsAnonymous() {
		v.SignerType = credentials.SignatureV2
	}

	return v, nil
}

func (s *overrideSignatureVersion) IsExpired() bool {
	return s.upstream.IsExpired()
}

// NewNoConfirm gets the S3 backend without testing it
func NewNoConfirm(cfg *Config) (*Backend, error) {
	return internalNew(cfg, false)
}

// New gets the S3 backend
func New(cfg *Config) (*Backend, error) {
	return internalNew(cfg, true)
}

func internalNew(cfg *Config, confirm bool) (*Backend, error) {
	l := log.Logger

	core, err := createCore(cfg, false)
	if err != nil {
		return nil, fmt.Errorf("unexpected error creating core: %w", err)
	}

	hedgedCore, err := createCore(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("unexpected error creating hedgedCore: %w", err)
	}

	// try listing objects
	if confirm {
		_, err = core.ListObjects(cfg.Bucket, cfg.Prefix, "", "/", 0)
		if err != nil {
			return nil, fmt.Errorf("unexpected error from ListObjects on %s: %w", cfg.Bucket, err)
		}
	}

	return &Backend{
		logger:     l,
		cfg:        cfg,
		core:       core,
		hedgedCore: hedgedCore,
	}, nil
}

func (rw *Backend) WriteRun(ctx context.Context, key partition.Key, runID string) (backend.RunWriter, error) {
	span, derivedCtx := opentracing.StartSpanFromContext(ctx, "s3.WriteRun")
	defer span.Finish()
	span.SetTag("key", key.String())

	metaName := rw.objectName(backend.MetaFileName(key, runID))
	exists, err := rw.objectExists(derivedCtx, metaName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, backend.ErrAlreadyFinalized
	}

	scratchPath := filepath.Join(os.TempDir(), "rawdb-scratch-"+uuid.New().String()+".jsonl")
	scratch, err := os.OpenFile(scratchPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "creating scratch file")
	}

	return &runWriter{
		rw:          rw,
		payloadName: rw.objectName(backend.PayloadFileName(key, runID)),
		metaName:    metaName,
		scratchPath: scratchPath,
		scratch:     scratch,
		buf:         bufio.NewWriter(scratch),
	}, nil
}

func (rw *Backend) OpenRun(ctx context.Context, key partition.Key, runID string) (backend.RunReader, error) {
	metaName := rw.objectName(backend.MetaFileName(key, runID))
	exists, err := rw.objectExists(ctx, metaName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, backend.ErrDoesNotExist
	}

	return &runReader{
		rw:          rw,
		payloadName: rw.objectName(backend.PayloadFileName(key, runID)),
		metaName:    metaName,
	}, nil
}

func (rw *Backend) ListRuns(ctx context.Context, key partition.Key) ([]string, error) {
	prefix := rw.objectName(path.Join(backend.KeyPathForKey(key)...)) + "/"

	var runIDs []string
	nextMarker := ""
	isTruncated := true
	for isTruncated {
		// ListObjects(bucket, prefix, nextMarker, delimiter string, maxKeys int)
		res, err := rw.core.ListObjects(rw.cfg.Bucket, prefix, nextMarker, "/", 0)
		if err != nil {
			return nil, errors.Wrapf(err, "error listing runs in s3 bucket, bucket: %s", rw.cfg.Bucket)
		}
		isTruncated = res.IsTruncated
		nextMarker = res.NextMarker

		level.Debug(rw.logger).Log("msg", "listing runs", "prefix", prefix,
			"found", len(res.CommonPrefixes), "IsTruncated", res.IsTruncated, "NextMarker", res.NextMarker)

		for _, cp := range res.CommonPrefixes {
			name := strings.Split(strings.TrimPrefix(cp.Prefix, prefix), "/")[0]
			if runID, ok := backend.RunIDFromDirName(name); ok {
				runIDs = append(runIDs, runID)
			}
		}
	}

	sort.Strings(runIDs)
	return runIDs, nil
}

func (rw *Backend) objectName(name string) string {
	if rw.cfg.Prefix == "" {
		return name
	}
	return path.Join(strings.Trim(rw.cfg.Prefix, "/"), name)
}

func (rw *Backend) objectExists(ctx context.Context, name string) (bool, error) {
	_, err := rw.core.Client.StatObject(ctx, rw.cfg.Bucket, name, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == errCodeNoSuchKey || resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, errors.Wrapf(err, "error checking object in s3 backend, object %s", name)
	}
	return true, nil
}

type runWriter struct {
	rw          *Backend
	payloadName string
	metaName    string
	scratchPath string
	scratch     *os.File
	buf         *bufio.Writer
	finalized   bool
}

func (w *runWriter) AppendRow(ctx context.Context, row map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.finalized {
		return backend.ErrAlreadyFinalized
	}
	buf, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "serializing payload row")
	}
	if _, err := w.buf.Write(append(buf, '\n')); err != nil {
		return errors.Wrap(err, "buffering payload row")
	}
	return nil
}

func (w *runWriter) Finalize(ctx context.Context, meta *backend.RunMeta) error {
	span, derivedCtx := opentracing.StartSpanFromContext(ctx, "s3.Finalize")
	defer span.Finish()
	span.SetTag("object", w.metaName)

	if w.finalized {
		return backend.ErrAlreadyFinalized
	}
	// scratch is removed on success and on failure
	defer os.Remove(w.scratchPath)

	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, "flushing scratch file")
	}
	if err := w.scratch.Sync(); err != nil {
		return errors.Wrap(err, "syncing scratch file")
	}
	if err := w.scratch.Close(); err != nil {
		return errors.Wrap(err, "closing scratch file")
	}

	// re-check the commit marker: if another process finalized in between we
	// must not overwrite its bytes
	exists, err := w.rw.objectExists(derivedCtx, w.metaName)
	if err != nil {
		return err
	}
	if exists {
		w.finalized = true
		return backend.ErrAlreadyFinalized
	}

	putObjectOptions := minio.PutObjectOptions{PartSize: w.rw.cfg.PartSize}
	info, err := w.rw.core.Client.FPutObject(derivedCtx, w.rw.cfg.Bucket, w.payloadName, w.scratchPath, putObjectOptions)
	if err != nil {
		span.SetTag("error", true)
		return errors.Wrapf(err, "error writing payload to s3 backend, object %s", w.payloadName)
	}
	level.Debug(w.rw.logger).Log("msg", "payload uploaded to s3", "objectName", w.payloadName, "size", info.Size)

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "serializing run metadata")
	}
	_, err = w.rw.core.Client.PutObject(derivedCtx, w.rw.cfg.Bucket, w.metaName,
		bytes.NewReader(metaBytes), int64(len(metaBytes)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		span.SetTag("error", true)
		return errors.Wrapf(err, "error writing metadata to s3 backend, object %s", w.metaName)
	}

	w.finalized = true
	return nil
}

type runReader struct {
	rw          *Backend
	payloadName string
	metaName    string
}

func (r *runReader) Meta(ctx context.Context) (*backend.RunMeta, error) {
	span, derivedCtx := opentracing.StartSpanFromContext(ctx, "s3.Meta")
	defer span.Finish()

	reader, _, _, err := r.rw.hedgedCore.GetObject(derivedCtx, r.rw.cfg.Bucket, r.metaName, minio.GetObjectOptions{})
	if err != nil {
		return nil, readError(err)
	}
	defer reader.Close()

	meta := &backend.RunMeta{}
	if err := json.NewDecoder(reader).Decode(meta); err != nil {
		return nil, errors.Wrap(err, "parsing run metadata")
	}
	return meta, nil
}

func (r *runReader) Rows(ctx context.Context) (backend.RowIterator, error) {
	span, derivedCtx := opentracing.StartSpanFromContext(ctx, "s3.Rows")
	defer span.Finish()

	reader, _, _, err := r.rw.hedgedCore.GetObject(derivedCtx, r.rw.cfg.Bucket, r.payloadName, minio.GetObjectOptions{})
	if err != nil {
		return nil, readError(err)
	}
	return backend.NewRowIterator(reader), nil
}

func createCore(cfg *Config, hedge bool) (*minio.Core, error) {
	wrapCredentialsProvider := func(p credentials.Provider) credentials.Provider {
		if cfg.SignatureV2 {
			return &overrideSignatureVersion{useV2: cfg.SignatureV2, upstream: p}
		}
		return p
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		wrapCredentialsProvider(&credentials.EnvAWS{}),
		wrapCredentialsProvider(&credentials.Static{
			Value: credentials.Value{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
			},
		}),
		wrapCredentialsProvider(&credentials.EnvMinio{}),
		wrapCredentialsProvider(&credentials.FileAWSCredentials{}),
		wrapCredentialsProvider(&credentials.FileMinioClient{}),
		wrapCredentialsProvider(&credentials.IAM{
			Client: &http.Client{
				Transport: http.DefaultTransport,
			},
		}),
	})

	customTransport, err := minio.DefaultTransport(!cfg.Insecure)
	if err != nil {
		return nil, errors.Wrap(err, "create minio.DefaultTransport")
	}

	// add instrumentation
	transport := instrumentation.NewTransport(customTransport)
	var stats *hedgedhttp.Stats

	if hedge && cfg.HedgeRequestsAt != 0 {
		transport, stats, err = hedgedhttp.NewRoundTripperAndStats(cfg.HedgeRequestsAt, cfg.HedgeRequestsUpTo, transport)
		if err != nil {
			return nil, err
		}
		instrumentation.PublishHedgedMetrics(stats)
	}

	opts := &minio.Options{
		Region:    cfg.Region,
		Secure:    !cfg.Insecure,
		Creds:     creds,
		Transport: transport,
	}

	return minio.NewCore(cfg.Endpoint, opts)
}

func readError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == errCodeNoSuchKey || resp.StatusCode == http.StatusNotFound {
		return backend.ErrDoesNotExist
	}
	return err
}
