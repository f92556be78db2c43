package utils

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// BatchArchiveBucket is the bucket for processed batch outputs; empty disables archiving.
func BatchArchiveBucket() string {
	return strings.TrimSpace(os.Getenv("BATCH_ARCHIVE_BUCKET"))
}

// ArchiveBatchOutput stores a processed batch output file under objectName.
// It is a no-op when BATCH_ARCHIVE_BUCKET is not set.
func ArchiveBatchOutput(ctx context.Context, objectName string, data []byte) error {
	bucketName := BatchArchiveBucket()
	if bucketName == "" {
		return nil
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = "text/plain; charset=utf-8"

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write gs://%s/%s: %w", bucketName, objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", bucketName, objectName, err)
	}
	return nil
}
