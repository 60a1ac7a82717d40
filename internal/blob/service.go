package blob

import (
	"context"
	"fmt"
	"time"

	"backend-zachatter/internal/db"
	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/metrics"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/xid"
)

type Service struct {
	store    Store
	db       db.Querier
	maxBytes int64
	log      logging.Logger
	metrics  *metrics.Metrics
}

// NewService uploads through store. q may be nil, in which case uploads are
// not recorded in blob_objects.
func NewService(store Store, q db.Querier, maxBytes int64, log logging.Logger, m *metrics.Metrics) *Service {
	return &Service{store: store, db: q, maxBytes: maxBytes, log: logging.OrDiscard(log), metrics: m}
}

func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// UploadBlob stores data and returns its public URL. Nothing retries a failed upload.
func (s *Service) UploadBlob(ctx context.Context, data []byte, suggestedName string) (string, error) {
	obj, err := s.Upload(ctx, data, suggestedName)
	if err != nil {
		return "", err
	}
	return obj.URL, nil
}

func (s *Service) Upload(ctx context.Context, data []byte, suggestedName string) (Object, error) {
	if len(data) == 0 {
		s.metrics.IncBlobUpload("rejected")
		return Object{}, fmt.Errorf("%w: %w", ErrUpload, ErrEmpty)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		s.metrics.IncBlobUpload("rejected")
		return Object{}, fmt.Errorf("%w: %w", ErrUpload, ErrTooLarge)
	}

	obj := Object{
		ID:          uuid.NewString(),
		Key:         keyPrefix + "/" + xid.New().String() + "-" + sanitizeName(suggestedName),
		ContentType: mimetype.Detect(data).String(),
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now(),
	}

	url, err := s.store.Put(ctx, obj.Key, data, obj.ContentType)
	if err != nil {
		s.metrics.IncBlobUpload("failed")
		s.log.WithError(err).WithField("key", obj.Key).Error("blob put failed")
		return Object{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	obj.URL = url
	s.metrics.IncBlobUpload("ok")

	s.record(ctx, obj)
	return obj, nil
}

func (s *Service) record(ctx context.Context, obj Object) {
	if s.db == nil {
		return
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO blob_objects (id, object_key, url, content_type, size_bytes)
		VALUES ($1,$2,$3,$4,$5)
	`, obj.ID, obj.Key, obj.URL, obj.ContentType, obj.SizeBytes)
	if err != nil {
		s.log.WithError(err).WithField("key", obj.Key).Warn("record blob object")
	}
}
