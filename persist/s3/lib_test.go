package s3_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/jrhy/mvkv"
	s3Persist "github.com/jrhy/mvkv/persist/s3"
	"github.com/jrhy/mvkv/persist/s3test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ mvkv.Persist = (*s3Persist.Persist)(nil)

type countingClient struct {
	s3Persist.S3Interface
	puts int
}

func (c *countingClient) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	c.puts++
	return c.S3Interface.PutObjectWithContext(ctx, input, opts...)
}

func TestHappyCase(t *testing.T) {
	t.Parallel()
	c, bucketName, closer := s3test.Client()
	defer closer()
	ctx := context.Background()

	p := s3Persist.NewPersist(c, bucketName, "db/")
	require.NoError(t, p.Store(ctx, "foofoo", []byte("here is some stuff")))
	b, err := p.Load(ctx, "foofoo")
	require.NoError(t, err)
	assert.Equal(t, []byte("here is some stuff"), b)

	require.NoError(t, p.Store(ctx, "foofoo", []byte("replaced")))
	b, err = p.Load(ctx, "foofoo")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), b)

	_, err = p.Load(ctx, "missing")
	assert.ErrorIs(t, err, s3Persist.ErrNotFound)

	require.NoError(t, p.Delete(ctx, "foofoo"))
	_, err = p.Load(ctx, "foofoo")
	assert.ErrorIs(t, err, s3Persist.ErrNotFound)
}

func TestSkipsIdenticalUpload(t *testing.T) {
	t.Parallel()
	c, bucketName, closer := s3test.Client()
	defer closer()
	ctx := context.Background()

	cc := &countingClient{S3Interface: c}
	p := s3Persist.NewPersist(cc, bucketName, "")
	require.NoError(t, p.Store(ctx, "dump", []byte("x")))
	require.NoError(t, p.Store(ctx, "dump", []byte("x")))
	assert.Equal(t, 1, cc.puts)
	require.NoError(t, p.Store(ctx, "dump", []byte("y")))
	assert.Equal(t, 2, cc.puts)
}

func TestExportImport(t *testing.T) {
	t.Parallel()
	c, bucketName, closer := s3test.Client()
	defer closer()
	ctx := context.Background()

	m, err := mvkv.Empty().Add([]byte("a"), []byte("1"))
	require.NoError(t, err)
	m, err = m.Add([]byte("b"), []byte("2"))
	require.NoError(t, err)

	p := s3Persist.NewPersist(c, bucketName, "exports/")
	manifest, err := mvkv.Export(ctx, p, mvkv.StoreVersion{Sequence: 7, Map: m}, mvkv.ExportOptions{Compress: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), manifest.Count)

	v, _, err := mvkv.Import(ctx, s3Persist.NewPersist(c, bucketName, "exports/"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v.Sequence)
	assert.Empty(t, mvkv.Diff(m, v.Map))
}
