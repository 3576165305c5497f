// Package filestore keeps uploaded chat attachments in MongoDB GridFS.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const bucketName = "uploads"

var (
	ErrNotExist = errors.New("file does not exist")

	validName = regexp.MustCompile(`^file-\d+-[a-f0-9]{12}(\.[a-z0-9]{1,10})?$`)
	validExt  = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)
)

type FileInfo struct {
	Name         string
	OriginalName string
	ContentType  string
	Size         int64
	UploadedBy   int
	UploadedAt   time.Time
}

type Store interface {
	Save(ctx context.Context, name, originalName, contentType string, uploadedBy int, content io.Reader) (FileInfo, error)
	Open(ctx context.Context, name string) (io.ReadCloser, FileInfo, error)
	Stat(ctx context.Context, name string) (FileInfo, error)
}

type fileMetadata struct {
	OriginalName string    `bson:"original_name"`
	ContentType  string    `bson:"content_type"`
	UploadedBy   int       `bson:"uploaded_by"`
	UploadedAt   time.Time `bson:"uploaded_at"`
}

type GridFSStore struct {
	client *mongo.Client
	bucket *gridfs.Bucket
}

// Connect opens a MongoDB client and the uploads bucket of the given database.
func Connect(ctx context.Context, uri, database string) (*GridFSStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	bucket, err := gridfs.NewBucket(client.Database(database), options.GridFSBucket().SetName(bucketName))
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create gridfs bucket: %w", err)
	}

	return &GridFSStore{client: client, bucket: bucket}, nil
}

func (s *GridFSStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *GridFSStore) Save(ctx context.Context, name, originalName, contentType string, uploadedBy int, content io.Reader) (FileInfo, error) {
	now := time.Now().UTC()
	meta := fileMetadata{
		OriginalName: originalName,
		ContentType:  contentType,
		UploadedBy:   uploadedBy,
		UploadedAt:   now,
	}

	stream, err := s.bucket.OpenUploadStream(name, options.GridFSUpload().SetMetadata(meta))
	if err != nil {
		return FileInfo{}, fmt.Errorf("open upload stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetWriteDeadline(deadline)
	}

	size, err := io.Copy(stream, content)
	if err != nil {
		stream.Abort()
		return FileInfo{}, fmt.Errorf("write upload: %w", err)
	}
	if err := stream.Close(); err != nil {
		return FileInfo{}, fmt.Errorf("close upload: %w", err)
	}

	return FileInfo{
		Name:         name,
		OriginalName: originalName,
		ContentType:  contentType,
		Size:         size,
		UploadedBy:   uploadedBy,
		UploadedAt:   now,
	}, nil
}

func (s *GridFSStore) Open(ctx context.Context, name string) (io.ReadCloser, FileInfo, error) {
	stream, err := s.bucket.OpenDownloadStreamByName(name)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, FileInfo{}, ErrNotExist
		}
		return nil, FileInfo{}, fmt.Errorf("open download stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetReadDeadline(deadline)
	}

	info, err := fileInfo(stream.GetFile())
	if err != nil {
		stream.Close()
		return nil, FileInfo{}, err
	}

	return stream, info, nil
}

func (s *GridFSStore) Stat(ctx context.Context, name string) (FileInfo, error) {
	rc, info, err := s.Open(ctx, name)
	if err != nil {
		return FileInfo{}, err
	}
	rc.Close()

	return info, nil
}

func fileInfo(f *gridfs.File) (FileInfo, error) {
	info := FileInfo{
		Name:       f.Name,
		Size:       f.Length,
		UploadedAt: f.UploadDate,
	}

	if len(f.Metadata) == 0 {
		return info, nil
	}

	var meta fileMetadata
	if err := bson.Unmarshal(f.Metadata, &meta); err != nil {
		return FileInfo{}, fmt.Errorf("decode file metadata: %w", err)
	}
	info.OriginalName = meta.OriginalName
	info.ContentType = meta.ContentType
	info.UploadedBy = meta.UploadedBy

	return info, nil
}

// GenerateName builds a stored file name from the upload time, a random
// suffix and the original file's extension.
func GenerateName(originalName string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	name := fmt.Sprintf("file-%d-%s", now.UnixMilli(), suffix)

	ext := strings.ToLower(filepath.Ext(originalName))
	if validExt.MatchString(ext) {
		name += ext
	}
	return name
}

// ValidName reports whether name could have been produced by GenerateName.
func ValidName(name string) bool {
	return validName.MatchString(name)
}
