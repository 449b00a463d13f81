// Package s3 stores mvkv exports as objects in an S3 bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/minio/blake2b-simd"
)

// ErrNotFound is returned by Load for a missing object.
var ErrNotFound = errors.New("object not found")

type S3Interface interface {
	DeleteObjectWithContext(ctx aws.Context, input *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error)
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// Persist implements the mvkv.Persist interface with one object per blob,
// named Prefix+name. It remembers the digest of recently uploaded blobs and
// skips uploading identical content again under the same name.
type Persist struct {
	s3         S3Interface
	BucketName string
	Prefix     string
	uploaded   *simplelru.LRU
}

// Load loads the bytes persisted in the named object.
func (p *Persist) Load(ctx context.Context, name string) ([]byte, error) {
	output, err := p.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	defer output.Body.Close()
	b, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, err
	}
	p.uploaded.Add(name, blake2b.Sum256(b))
	return b, nil
}

// Store uploads b under name, replacing any previous object.
func (p *Persist) Store(ctx context.Context, name string, b []byte) error {
	sum := blake2b.Sum256(b)
	if prev, ok := p.uploaded.Get(name); ok && prev.([32]byte) == sum {
		return nil
	}
	_, err := p.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		p.uploaded.Remove(name)
		return err
	}
	p.uploaded.Add(name, sum)
	return nil
}

// Delete removes the named object.
func (p *Persist) Delete(ctx context.Context, name string) error {
	p.uploaded.Remove(name)
	_, err := p.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
	})
	return err
}

// NewPersist returns a Persist that keeps blobs as objects under prefix in
// the given bucket.
func NewPersist(client S3Interface, bucketName, prefix string) *Persist {
	uploaded, err := simplelru.NewLRU(1000, nil)
	if err != nil {
		panic(err)
	}
	return &Persist{
		s3:         client,
		BucketName: bucketName,
		Prefix:     prefix,
		uploaded:   uploaded,
	}
}
