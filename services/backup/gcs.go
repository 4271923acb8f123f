// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, objectPath string, r io.Reader) error
}

// GCSClient uploads archives to a Cloud Storage bucket.
type GCSClient struct {
	storageClient *storage.Client
	BucketName    string
}

var _ Uploader = (*GCSClient)(nil)

// NewGCSClient authenticates with the service account key at saKeyPath.
func NewGCSClient(ctx context.Context, bucketName, saKeyPath string) (*GCSClient, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	info, err := os.Stat(saKeyPath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSClient{storageClient: storageClient, BucketName: bucketName}, nil
}

// Upload implements Uploader. A read error from r aborts the upload, so no
// partial object is left under objectPath.
func (c *GCSClient) Upload(ctx context.Context, objectPath string, r io.Reader) error {
	obj := c.storageClient.Bucket(c.BucketName).Object(objectPath)
	open := func(ctx context.Context) io.WriteCloser {
		writer := obj.NewWriter(ctx)
		writer.ContentType = "application/json"
		writer.CacheControl = "no-cache, no-store, must-revalidate"
		return writer
	}
	if err := writeObject(ctx, open, r); err != nil {
		return fmt.Errorf("failed to write GCS object %s: %w", objectPath, err)
	}
	slog.Info("Uploaded archive", "object", fmt.Sprintf("gs://%s/%s", c.BucketName, objectPath))
	return nil
}

// writeObject copies r into the writer returned by open. Close finalizes a
// Cloud Storage object, so on a copy failure the writer's context is
// cancelled instead and Close is never called.
func writeObject(ctx context.Context, open func(context.Context) io.WriteCloser, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := open(ctx)
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Close releases the storage client.
func (c *GCSClient) Close() error {
	return c.storageClient.Close()
}

// ObjectName returns the archive object path for a backup taken at now.
func ObjectName(prefix string, now time.Time) string {
	return path.Join(prefix, "truthwindow-sessions-"+now.UTC().Format("20060102T150405Z")+".json")
}

// Backup streams an export of src to up without buffering the whole
// archive in memory.
//
// # Outputs
//
//   - string: Object path written.
//   - int: Number of chats exported.
//   - error: Non-nil if export or upload fails.
func Backup(ctx context.Context, src Source, up Uploader, prefix string, now time.Time) (string, int, error) {
	objectPath := ObjectName(prefix, now)

	pr, pw := io.Pipe()
	type result struct {
		count int
		err   error
	}
	done := make(chan result, 1)
	go func() {
		n, err := Export(ctx, src, pw, now)
		pw.CloseWithError(err)
		done <- result{n, err}
	}()

	uploadErr := up.Upload(ctx, objectPath, pr)
	// Unblocks the exporter if the upload stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	res := <-done

	if uploadErr != nil {
		return "", 0, fmt.Errorf("upload: %w", uploadErr)
	}
	if res.err != nil {
		return "", 0, fmt.Errorf("export: %w", res.err)
	}
	return objectPath, res.count, nil
}
