package drivers

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory and pages List results two at a time.
type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	f.types[*in.Key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: aws.String(f.types[*in.Key]),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var matched []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)

	out := &s3.ListObjectsV2Output{}
	for i, k := range matched {
		if i == 2 {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(matched[1])
			break
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Driver(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	driver := NewS3Driver(client, "edibridge")

	require.NoError(t, driver.Save(ctx, "inbox/1.edi", strings.NewReader("one"), "application/edi-x12"))
	require.NoError(t, driver.Save(ctx, "inbox/2.edi", strings.NewReader("two"), "application/edi-x12"))
	require.NoError(t, driver.Save(ctx, "inbox/3.edi", strings.NewReader("three"), "application/edi-x12"))
	require.NoError(t, driver.Save(ctx, "archive/failed/0.edi", strings.NewReader("zero"), "application/edi-x12"))

	keys, err := driver.List(ctx, "inbox/")
	require.NoError(t, err)
	assert.Equal(t, []string{"inbox/1.edi", "inbox/2.edi", "inbox/3.edi"}, keys)

	rc, contentType, err := driver.Get(ctx, "inbox/2.edi")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "two", string(body))
	assert.Equal(t, "application/edi-x12", contentType)

	require.NoError(t, driver.Delete(ctx, "inbox/2.edi"))
	_, _, err = driver.Get(ctx, "inbox/2.edi")
	assert.Error(t, err)
}
