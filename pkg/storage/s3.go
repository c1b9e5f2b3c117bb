package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	// S3 caps tag values at 256 characters.
	maxTagValueLen   = 256
	collectionMarker = ".collection"
	ownerMetadataKey = "owner"
	deleteBatchSize  = 1000
)

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObjectTagging(ctx context.Context, in *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	PutObjectTagging(ctx context.Context, in *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
}

// S3Config holds configuration for S3Backend.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO, LocalStack)
	Prefix   string
}

// S3Backend maps collections to key prefixes and data objects to keys. A collection
// is materialised by a marker object so empty orders still exist. Metadata is kept in
// object tags with base64url values, since tag values cannot hold '%'.
type S3Backend struct {
	client S3API
	bucket string
	prefix string
	signer *TicketSigner
}

// NewS3Client loads the default AWS configuration for the given settings.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Backend wraps an S3 client.
func NewS3Backend(client S3API, cfg S3Config, signer *TicketSigner) (*S3Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	if signer == nil {
		return nil, fmt.Errorf("ticket signer required")
	}
	return &S3Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		signer: signer,
	}, nil
}

// Exists reports whether p is a data object or a non-empty prefix.
func (b *S3Backend) Exists(ctx context.Context, p string) (bool, error) {
	ok, err := b.IsDataObject(ctx, p)
	if err != nil || ok {
		return ok, err
	}
	return b.IsCollection(ctx, p)
}

// IsCollection reports whether any key lives under p.
func (b *S3Backend) IsCollection(ctx context.Context, p string) (bool, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, classifyS3Error(err)
	}
	return len(out.Contents) > 0, nil
}

// IsDataObject reports whether the key for p exists.
func (b *S3Backend) IsDataObject(ctx context.Context, p string) (bool, error) {
	if CleanPath(p) == "/" {
		return false, nil
	}
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err == nil {
		return true, nil
	}
	err = classifyS3Error(err)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// List returns the direct children of p.
func (b *S3Backend) List(ctx context.Context, p string) (map[string]Entry, error) {
	logical := CleanPath(p)
	dir := b.dirKey(p)
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	}

	entries := make(map[string]Entry)
	found := false
	for {
		out, err := b.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, classifyS3Error(err)
		}
		for _, obj := range out.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), dir)
			if name == "" || name == collectionMarker {
				continue
			}
			entry := Entry{
				Name:          name,
				Path:          Join(logical, name),
				ContentLength: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				entry.ModifiedAt = obj.LastModified.UTC()
			}
			entries[name] = entry
		}
		for _, cp := range out.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), dir), "/")
			if name == "" {
				continue
			}
			entries[name] = Entry{Name: name, Path: Join(logical, name), Collection: true}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	if !found {
		return nil, ErrNotFound
	}
	return entries, nil
}

// CreateCollectionInheritable writes the marker object tagged with the owner.
func (b *S3Backend) CreateCollectionInheritable(ctx context.Context, p, owner string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:  aws.String(b.bucket),
		Key:     aws.String(b.markerKey(p)),
		Body:    strings.NewReader(""),
		Tagging: aws.String(ownerMetadataKey + "=" + encodeTagValue(owner)),
	})
	if err != nil {
		return classifyS3Error(err)
	}
	return nil
}

// GetMetadata returns the decoded tags of p.
func (b *S3Backend) GetMetadata(ctx context.Context, p string) (map[string]string, error) {
	key, err := b.metadataKey(ctx, p)
	if err != nil {
		return nil, err
	}
	return b.readTags(ctx, key)
}

// SetMetadata merges values into the tag set of p.
func (b *S3Backend) SetMetadata(ctx context.Context, p string, values map[string]string) error {
	for k, v := range values {
		if n := len(encodeTagValue(v)); n > maxTagValueLen {
			return fmt.Errorf("%w: %q on %s encodes to %d bytes (limit %d)", ErrMetadataTooLarge, k, p, n, maxTagValueLen)
		}
	}
	key, err := b.metadataKey(ctx, p)
	if err != nil {
		return err
	}
	current, err := b.readTags(ctx, key)
	if err != nil {
		return err
	}
	for k, v := range values {
		current[k] = v
	}
	return b.writeTags(ctx, key, current)
}

// RemoveMetadata drops one tag from p.
func (b *S3Backend) RemoveMetadata(ctx context.Context, p, name string) error {
	key, err := b.metadataKey(ctx, p)
	if err != nil {
		return err
	}
	current, err := b.readTags(ctx, key)
	if err != nil {
		return err
	}
	if _, ok := current[name]; !ok {
		return nil
	}
	delete(current, name)
	return b.writeTags(ctx, key, current)
}

// Remove deletes a data object, or every key under a collection when recursive.
func (b *S3Backend) Remove(ctx context.Context, p string, recursive bool) error {
	isObject, err := b.IsDataObject(ctx, p)
	if err != nil {
		return err
	}
	if isObject {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(p)),
		})
		return classifyS3Error(err)
	}

	isCollection, err := b.IsCollection(ctx, p)
	if err != nil {
		return err
	}
	if !isCollection {
		return ErrNotFound
	}
	if !recursive {
		return fmt.Errorf("remove %s: collection requires recursive removal", CleanPath(p))
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.dirKey(p)),
	}
	for {
		out, err := b.client.ListObjectsV2(ctx, input)
		if err != nil {
			return classifyS3Error(err)
		}
		if err := b.deleteKeys(ctx, out.Contents); err != nil {
			return err
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}

// IssueTicket returns a signed ticket for an existing data object.
func (b *S3Backend) IssueTicket(ctx context.Context, p string) (string, error) {
	ok, err := b.IsDataObject(ctx, p)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	ticket, _, err := b.signer.Issue(p)
	return ticket, err
}

// AnonymousSession opens a session that only reads through a supplied ticket.
func (b *S3Backend) AnonymousSession(_ context.Context) (TicketSession, error) {
	return &s3TicketSession{backend: b}, nil
}

func (b *S3Backend) deleteKeys(ctx context.Context, objects []types.Object) error {
	for start := 0; start < len(objects); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(objects) {
			end = len(objects)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return classifyS3Error(err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func (b *S3Backend) metadataKey(ctx context.Context, p string) (string, error) {
	ok, err := b.IsDataObject(ctx, p)
	if err != nil {
		return "", err
	}
	if ok {
		return b.key(p), nil
	}
	ok, err = b.IsCollection(ctx, p)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return b.markerKey(p), nil
}

func (b *S3Backend) readTags(ctx context.Context, key string) (map[string]string, error) {
	out, err := b.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classifyS3Error(err)
		if errors.Is(err, ErrNotFound) && strings.HasSuffix(key, collectionMarker) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, tag := range out.TagSet {
		tags[aws.ToString(tag.Key)] = decodeTagValue(aws.ToString(tag.Value))
	}
	return tags, nil
}

func (b *S3Backend) writeTags(ctx context.Context, key string, values map[string]string) error {
	tagSet := make([]types.Tag, 0, len(values))
	for k, v := range values {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(encodeTagValue(v))})
	}
	_, err := b.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(b.bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	return classifyS3Error(err)
}

func (b *S3Backend) key(p string) string {
	rel := strings.TrimPrefix(CleanPath(p), "/")
	if b.prefix == "" {
		return rel
	}
	if rel == "" {
		return b.prefix
	}
	return b.prefix + "/" + rel
}

func (b *S3Backend) dirKey(p string) string {
	k := b.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (b *S3Backend) markerKey(p string) string {
	return b.dirKey(p) + collectionMarker
}

func encodeTagValue(v string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(v))
}

func decodeTagValue(v string) string {
	raw, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return v
	}
	return string(raw)
}

// classifyS3Error maps missing keys to ErrNotFound and transport timeouts to ErrUnavailable.
func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchTagSet":
			return ErrNotFound
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

type s3TicketSession struct {
	backend *S3Backend
	ticket  string
}

func (s *s3TicketSession) SupplyTicket(code string) {
	s.ticket = code
}

func (s *s3TicketSession) TestTicket(ctx context.Context, p string) (bool, error) {
	if s.ticket == "" {
		return false, nil
	}
	if err := s.backend.signer.Verify(s.ticket, p); err != nil {
		return false, nil
	}
	return s.backend.IsDataObject(ctx, p)
}

func (s *s3TicketSession) StreamTicket(ctx context.Context, p string) (*Stream, error) {
	ok, err := s.TestTicket(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTicket
	}

	out, err := s.backend.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.backend.bucket),
		Key:    aws.String(s.backend.key(p)),
	})
	if err != nil {
		return nil, classifyS3Error(err)
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" || contentType == "binary/octet-stream" {
		contentType = ContentTypeFor(p)
	}
	return &Stream{Body: out.Body, Size: aws.ToInt64(out.ContentLength), ContentType: contentType}, nil
}

func (s *s3TicketSession) Close() error {
	s.ticket = ""
	return nil
}
