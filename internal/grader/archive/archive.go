// Package archive keeps compressed copies of graded submissions in object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"academyjudge/internal/common/storage"
	"academyjudge/internal/grader/model"
	appErr "academyjudge/pkg/errors"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	objectPrefix = "submissions"
	contentType  = "application/zstd"
	// Cap on the decompressed record size accepted by Load.
	maxRecordBytes = 16 << 20
)

// Record is one archived submission.
type Record struct {
	QuestionID int64              `json:"questionId"`
	Language   string             `json:"language"`
	Code       string             `json:"code"`
	Outcome    model.GradeOutcome `json:"outcome"`
	Score      model.Score        `json:"score"`
	ArchivedAt time.Time          `json:"archivedAt"`
}

// Archiver stores records as zstd-compressed JSON objects.
type Archiver struct {
	storage storage.ObjectStorage
	bucket  string
	now     func() time.Time
	newID   func() string
}

func NewArchiver(objectStorage storage.ObjectStorage, bucket string) *Archiver {
	return &Archiver{
		storage: objectStorage,
		bucket:  bucket,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// ObjectKey returns submissions/<questionId>/<yyyymmdd>/<id>.json.zst.
func ObjectKey(questionID int64, at time.Time, id string) string {
	return fmt.Sprintf("%s/%d/%s/%s.json.zst", objectPrefix, questionID, at.UTC().Format("20060102"), id)
}

// Store uploads rec and returns its object key.
func (a *Archiver) Store(ctx context.Context, rec Record) (string, error) {
	if a == nil || a.storage == nil {
		return "", appErr.New(appErr.ServiceUnavailable).WithMessage("archive is not configured")
	}
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = a.now()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal archive record failed: %w", err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ObjectStorageError, "create zstd writer failed")
	}
	if _, err := enc.Write(payload); err != nil {
		_ = enc.Close()
		return "", appErr.Wrapf(err, appErr.ObjectStorageError, "compress archive record failed")
	}
	if err := enc.Close(); err != nil {
		return "", appErr.Wrapf(err, appErr.ObjectStorageError, "compress archive record failed")
	}

	key := ObjectKey(rec.QuestionID, rec.ArchivedAt, a.newID())
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), contentType); err != nil {
		return "", appErr.Wrapf(err, appErr.ObjectStorageError, "upload archive record failed")
	}
	return key, nil
}

// Load downloads and decodes the record at key.
func (a *Archiver) Load(ctx context.Context, key string) (Record, error) {
	if a == nil || a.storage == nil {
		return Record{}, appErr.New(appErr.ServiceUnavailable).WithMessage("archive is not configured")
	}
	obj, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		return Record{}, appErr.Wrapf(err, appErr.ObjectStorageError, "get archive record failed")
	}
	defer obj.Close()

	dec, err := zstd.NewReader(obj)
	if err != nil {
		return Record{}, appErr.Wrapf(err, appErr.ObjectStorageError, "create zstd reader failed")
	}
	defer dec.Close()

	data, err := io.ReadAll(io.LimitReader(dec, maxRecordBytes))
	if err != nil {
		return Record{}, appErr.Wrapf(err, appErr.ObjectStorageError, "decompress archive record failed")
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, appErr.Wrapf(err, appErr.ObjectStorageError, "decode archive record failed")
	}
	return rec, nil
}
