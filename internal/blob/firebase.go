package blob

import (
	"context"
	"fmt"
	"net/url"

	"backend-zachatter/internal/logging"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
)

const downloadTokenKey = "firebaseStorageDownloadTokens"

// FirebaseStore writes to a Firebase Storage bucket and returns token
// download URLs of the same form the Firebase client SDKs hand out.
type FirebaseStore struct {
	bucket     *storage.BucketHandle
	bucketName string
	log        logging.Logger
}

func NewFirebaseStore(ctx context.Context, app *firebase.App, bucketName string, log logging.Logger) (*FirebaseStore, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase storage client: %w", err)
	}
	var bucket *storage.BucketHandle
	if bucketName == "" {
		bucket, err = client.DefaultBucket()
	} else {
		bucket, err = client.Bucket(bucketName)
	}
	if err != nil {
		return nil, fmt.Errorf("firebase storage bucket: %w", err)
	}
	return &FirebaseStore{bucket: bucket, bucketName: bucket.BucketName(), log: logging.OrDiscard(log)}, nil
}

func (s *FirebaseStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	token := uuid.NewString()
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{downloadTokenKey: token}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	return downloadURL(s.bucketName, key, token), nil
}

func downloadURL(bucket, key, token string) string {
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucket, url.PathEscape(key), token)
}
