package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	tags    map[string][]types.Tag
	listErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, tags: map[string][]types.Tag{}}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = data
	if in.Tagging != nil {
		values, err := url.ParseQuery(aws.ToString(in.Tagging))
		if err != nil {
			return nil, err
		}
		tagSet := make([]types.Tag, 0, len(values))
		for k := range values {
			tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(values.Get(k))})
		}
		f.tags[key] = tagSet
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	delete(f.tags, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(id.Key))
		delete(f.tags, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	prefix := aws.ToString(in.Prefix)
	delimiter := aws.ToString(in.Delimiter)
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seen := map[string]bool{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				cp := prefix + rest[:idx+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: aws.Time(time.Unix(0, 0)),
		})
		if in.MaxKeys != nil && int32(len(out.Contents)) >= *in.MaxKeys {
			break
		}
	}
	return out, nil
}

func (f *fakeS3) GetObjectTagging(_ context.Context, in *s3.GetObjectTaggingInput, _ ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectTaggingOutput{TagSet: append([]types.Tag(nil), f.tags[key]...)}, nil
}

func (f *fakeS3) PutObjectTagging(_ context.Context, in *s3.PutObjectTaggingInput, _ ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; !ok {
		return nil, &types.NoSuchKey{}
	}
	f.tags[key] = append([]types.Tag(nil), in.Tagging.TagSet...)
	return &s3.PutObjectTaggingOutput{}, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func newTestS3Backend(t *testing.T) (*S3Backend, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	backend, err := NewS3Backend(fake, S3Config{Bucket: "orders", Prefix: "/data/"}, NewTicketSigner("secret", time.Hour))
	require.NoError(t, err)
	return backend, fake
}

func TestS3BackendCollectionsAndObjects(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestS3Backend(t)

	require.NoError(t, b.CreateCollectionInheritable(ctx, "/orders/42", "alice"))
	require.Contains(t, fake.objects, "data/orders/42/.collection")

	ok, err := b.IsCollection(ctx, "/orders/42")
	require.NoError(t, err)
	require.True(t, ok)

	fake.objects["data/orders/42/order_42_unrestricted1.zip"] = []byte("part-1")
	fake.objects["data/orders/42/nested/file.txt"] = []byte("n")

	ok, err = b.IsDataObject(ctx, "/orders/42/order_42_unrestricted1.zip")
	require.NoError(t, err)
	require.True(t, ok)

	entries, err := b.List(ctx, "/orders/42")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.EqualValues(t, 6, entries["order_42_unrestricted1.zip"].ContentLength)
	require.True(t, entries["nested"].Collection)

	_, err = b.List(ctx, "/orders/404")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Remove(ctx, "/orders/42", true))
	exists, err := b.Exists(ctx, "/orders/42")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestS3BackendMetadataUsesEncodedTags(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestS3Backend(t)
	fake.objects["data/orders/1/a.zip"] = []byte("x")

	link := "host/orders/1/download/00/c/abc%2Bdef"
	require.NoError(t, b.SetMetadata(ctx, "/orders/1/a.zip", map[string]string{"download": link, "iticket_code": "abc%2Bdef"}))
	for _, tag := range fake.tags["data/orders/1/a.zip"] {
		require.NotContains(t, aws.ToString(tag.Value), "%")
	}

	require.NoError(t, b.RemoveMetadata(ctx, "/orders/1/a.zip", "iticket_code"))
	meta, err := b.GetMetadata(ctx, "/orders/1/a.zip")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"download": link}, meta)

	require.NoError(t, b.CreateCollectionInheritable(ctx, "/orders/2", "bob"))
	meta, err = b.GetMetadata(ctx, "/orders/2")
	require.NoError(t, err)
	require.Equal(t, "bob", meta[ownerMetadataKey])
}

func TestS3BackendRejectsOversizedTagValues(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestS3Backend(t)
	fake.objects["data/orders/1/a.zip"] = []byte("x")
	require.NoError(t, b.SetMetadata(ctx, "/orders/1/a.zip", map[string]string{"iticket_code": "old"}))

	link := "https://" + strings.Repeat("h", 120) + ".example.org/api/orders/" + strings.Repeat("9", 60) + "/download/00/c/abc%2Bdef"
	err := b.SetMetadata(ctx, "/orders/1/a.zip", map[string]string{"download": link})
	require.ErrorIs(t, err, ErrMetadataTooLarge)
	require.Contains(t, err.Error(), `"download"`)

	meta, err := b.GetMetadata(ctx, "/orders/1/a.zip")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"iticket_code": "old"}, meta)
}

func TestS3BackendTicketSession(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestS3Backend(t)
	fake.objects["data/orders/3/order_3_restricted.zip"] = []byte("zip")

	ticket, err := b.IssueTicket(ctx, "/orders/3/order_3_restricted.zip")
	require.NoError(t, err)

	session, err := b.AnonymousSession(ctx)
	require.NoError(t, err)
	session.SupplyTicket(ticket)

	stream, err := session.StreamTicket(ctx, "/orders/3/order_3_restricted.zip")
	require.NoError(t, err)
	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	require.Equal(t, "zip", string(body))
	require.Equal(t, "application/zip", stream.ContentType)

	session.SupplyTicket("bogus")
	_, err = session.StreamTicket(ctx, "/orders/3/order_3_restricted.zip")
	require.ErrorIs(t, err, ErrInvalidTicket)
}

func TestS3BackendClassifiesTimeouts(t *testing.T) {
	b, fake := newTestS3Backend(t)
	fake.listErr = timeoutErr{}

	_, err := b.IsCollection(context.Background(), "/orders/1")
	require.True(t, IsUnavailable(err))

	fake.listErr = errors.New("boom")
	_, err = b.IsCollection(context.Background(), "/orders/1")
	require.False(t, IsUnavailable(err))
}
