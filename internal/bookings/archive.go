package bookings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive mirrors booking records to S3. With no bucket it does nothing.
type Archive struct {
	bucket string
	client S3API
}

func NewArchive(client S3API, bucket string) *Archive {
	return &Archive{bucket: bucket, client: client}
}

func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.client != nil
}

func archiveKey(rec *Record) string {
	t := rec.CreatedAt.UTC()
	return fmt.Sprintf("bookings/v1/%s/%d/%02d/%s.json", rec.PracticeID, t.Year(), t.Month(), rec.ExternalBookingID)
}

// Put writes rec as JSON and returns the object key.
func (a *Archive) Put(ctx context.Context, rec *Record) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("bookings: marshal record: %w", err)
	}
	key := archiveKey(rec)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("bookings: s3 put %s: %w", key, err)
	}
	return key, nil
}
