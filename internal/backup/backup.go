// Package backup exports the data directory to S3-compatible storage as a
// single encrypted archive, and restores from one. The archive is sealed
// under the family record key before it leaves the machine, so the bucket
// operator never sees profile contents. Export is parent-initiated only;
// nothing here runs on a schedule.
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/brightnest/haven/internal/filex"
	"github.com/brightnest/haven/internal/logging"
)

// Sealer seals and opens backup payloads. The profile store satisfies it
// with the family record key.
type Sealer interface {
	SealBlob(data []byte) ([]byte, error)
	OpenBlob(sealed []byte) ([]byte, error)
}

// S3Options carries the bucket coordinates.
type S3Options struct {
	Region       string
	RootUser     string
	RootPassword string
	Bucket       string
	BaseEndpoint string
}

// objectAPI is the slice of the S3 client the exporter uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// test seams
var (
	loadConfigFunc = config.LoadDefaultConfig
	newClientFunc  = func(cfg aws.Config, baseEndpoint string) objectAPI {
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			if baseEndpoint != "" {
				o.BaseEndpoint = aws.String(baseEndpoint)
			}
			o.UsePathStyle = true
		})
	}
	nowFunc = time.Now
)

// Exporter builds, seals, and ships backup archives.
type Exporter struct {
	dataDir string
	sealer  Sealer
	opts    S3Options
	log     logging.Logger
}

// NewExporter wires an exporter for the given data directory.
func NewExporter(dataDir string, sealer Sealer, opts S3Options, log logging.Logger) *Exporter {
	return &Exporter{
		dataDir: dataDir,
		sealer:  sealer,
		opts:    opts,
		log:     log.With("component", "backup"),
	}
}

func (e *Exporter) client(ctx context.Context) (objectAPI, error) {
	cfg, err := loadConfigFunc(ctx,
		config.WithRegion(e.opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			e.opts.RootUser,
			e.opts.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}
	return newClientFunc(cfg, e.opts.BaseEndpoint), nil
}

// ObjectKey names a backup object for the family.
func ObjectKey(familyID string) string {
	return fmt.Sprintf("backups/%s/%s.haven.enc", familyID, nowFunc().UTC().Format("20060102T150405Z"))
}

// Export archives the data directory, seals it, and uploads it. Returns
// the object key.
func (e *Exporter) Export(ctx context.Context, familyID string) (string, error) {
	archive, err := e.buildArchive()
	if err != nil {
		return "", fmt.Errorf("building archive: %w", err)
	}
	sealed, err := e.sealer.SealBlob(archive)
	if err != nil {
		return "", fmt.Errorf("sealing archive: %w", err)
	}

	client, err := e.client(ctx)
	if err != nil {
		return "", err
	}

	key := ObjectKey(familyID)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(e.opts.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(sealed),
	})
	if err != nil {
		return "", fmt.Errorf("uploading backup: %w", err)
	}

	e.log.Info(ctx, "backup exported",
		"key", key, "archive_bytes", len(archive), "sealed_bytes", len(sealed))
	return key, nil
}

// Restore downloads a backup object, opens it, and unpacks it into destDir.
// destDir must not be the live data directory.
func (e *Exporter) Restore(ctx context.Context, key, destDir string) error {
	client, err := e.client(ctx)
	if err != nil {
		return err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("downloading backup: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return err
	}
	archive, err := e.sealer.OpenBlob(sealed)
	if err != nil {
		return err
	}
	if err := unpackArchive(archive, destDir); err != nil {
		return fmt.Errorf("unpacking backup: %w", err)
	}
	e.log.Info(ctx, "backup restored", "key", key, "dest", destDir)
	return nil
}

// buildArchive tars and gzips the data directory. Temp files and the
// device pepper stay out: the pepper must never leave the machine, or the
// device binding is gone.
func (e *Exporter) buildArchive() ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(e.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		name := info.Name()
		if strings.HasPrefix(name, ".tmp-") || name == ".device_pepper" {
			return nil
		}
		rel, err := filepath.Rel(e.dataDir, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unpackArchive(archive []byte, destDir string) error {
	if _, err := filex.EnsureDir(destDir); err != nil {
		return err
	}
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		// reject entries that would land outside destDir
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		rel, err := filepath.Rel(destDir, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		if _, err := filex.EnsureDir(filepath.Dir(target)); err != nil {
			return err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		if err := filex.AtomicWrite(target, data, 0o600); err != nil {
			return err
		}
	}
}
