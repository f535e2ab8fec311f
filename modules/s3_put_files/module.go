// Package s3_put_files uploads files to an S3 compatible object store.
package s3_put_files

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the entry with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterEntry("s3_put_files", &registry.EntryPlugin{
		New:         newEntry,
		Description: "Uploads files to an S3 bucket.",
	})
}

// Entry uploads either the listed files or the result files of the previous
// entry. Options: endpoint, access_key, secret_key, region, use_ssl, bucket,
// prefix, create_bucket, files, file_type.
type Entry struct {
	env  jobentry.Env
	opts config.Options
}

func newEntry(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	for _, key := range []string{"endpoint", "bucket"} {
		if _, err := opts.Required(key); err != nil {
			return nil, err
		}
	}
	if t := opts.String("file_type", ""); t != "" {
		if _, err := result.ParseFileType(t); err != nil {
			return nil, err
		}
	}
	return &Entry{env: env, opts: opts}, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// sources lists the local paths to upload, in a stable order.
func (e *Entry) sources(prev *result.Result) []string {
	expand := e.env.Scope().Expand
	if listed := e.opts.Strings("files"); len(listed) > 0 {
		out := make([]string, len(listed))
		for i, p := range listed {
			out[i] = expand(p)
		}
		return out
	}
	var files []result.File
	if t := e.opts.String("file_type", ""); t != "" {
		ft, _ := result.ParseFileType(t)
		files = prev.FilesOfType(ft)
	} else {
		for _, f := range prev.Files {
			files = append(files, f)
		}
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	sort.Strings(out)
	return out
}

func (e *Entry) Execute(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
	expand := e.env.Scope().Expand
	bucket := expand(e.opts.String("bucket", ""))
	prefix := expand(e.opts.String("prefix", ""))
	region := e.opts.String("region", "us-east-1")
	logger := e.env.Logger().With("bucket", bucket)

	client, err := minio.New(expand(e.opts.String("endpoint", "")), &minio.Options{
		Creds:     credentials.NewStaticV4(expand(e.opts.String("access_key", "")), expand(e.opts.String("secret_key", "")), ""),
		Secure:    e.opts.Bool("use_ssl", true),
		Region:    region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	if e.opts.Bool("create_bucket", false) {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("bucket exists: %w", err)
		}
		if !exists {
			logger.Info("Creating bucket.")
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
				return nil, fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}

	files := e.sources(prev)
	if len(files) == 0 {
		logger.Warn("No files to upload.")
	}
	for _, src := range files {
		key := path.Join(prefix, filepath.Base(src))
		contentType := mime.TypeByExtension(filepath.Ext(src))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		info, err := client.FPutObject(ctx, bucket, key, src, minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", src, err)
		}
		logger.Info("Uploaded file", "source", src, "key", key, "size", info.Size, "contentType", contentType)
		prev.Lines.Output++
	}
	prev.Success = true
	return prev, nil
}
