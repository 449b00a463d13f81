// Package s3test serves an in-process S3 for tests.
package s3test

import (
	"crypto/rand"
	"encoding/hex"
	"net/http/httptest"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// Client starts a gofakes3 server with one fresh bucket. It returns a
// client for the server, the bucket name, and a function that stops the
// server.
func Client() (*s3.S3, string, func()) {
	ts := httptest.NewServer(gofakes3.New(s3mem.New()).Server())
	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials("mvkv", "mvkv", ""),
		Endpoint:         aws.String(ts.URL),
		Region:           aws.String("us-east-1"),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		ts.Close()
		panic(err)
	}
	client := s3.New(sess)

	bucket := bucketName()
	if _, err := client.CreateBucket(&s3.CreateBucketInput{Bucket: &bucket}); err != nil {
		ts.Close()
		panic(err)
	}
	return client, bucket, ts.Close
}

func bucketName() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return "mvkv-" + hex.EncodeToString(b[:])
}
