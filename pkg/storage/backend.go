package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a collection or data object does not exist.
	ErrNotFound = errors.New("storage: path not found")
	// ErrUnavailable wraps transport failures talking to the backend.
	ErrUnavailable = errors.New("storage: backend unavailable")
	// ErrInvalidTicket is returned by ticket sessions when no valid ticket was supplied.
	ErrInvalidTicket = errors.New("storage: invalid ticket")
	// ErrMetadataTooLarge is returned when a metadata value exceeds what the backend can store.
	ErrMetadataTooLarge = errors.New("storage: metadata value too large")
)

// Entry describes one child of a collection.
type Entry struct {
	Name          string
	Path          string
	ContentLength int64
	ModifiedAt    time.Time
	Collection    bool
}

// Stream is a readable data object.
type Stream struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// Backend is the object/collection API order collections are stored in.
type Backend interface {
	Exists(ctx context.Context, p string) (bool, error)
	IsCollection(ctx context.Context, p string) (bool, error)
	IsDataObject(ctx context.Context, p string) (bool, error)
	List(ctx context.Context, p string) (map[string]Entry, error)
	CreateCollectionInheritable(ctx context.Context, p, owner string) error
	GetMetadata(ctx context.Context, p string) (map[string]string, error)
	SetMetadata(ctx context.Context, p string, values map[string]string) error
	RemoveMetadata(ctx context.Context, p, key string) error
	Remove(ctx context.Context, p string, recursive bool) error
	IssueTicket(ctx context.Context, p string) (string, error)
	AnonymousSession(ctx context.Context) (TicketSession, error)
}

// TicketSession is a credential-less session able to redeem a single ticket.
type TicketSession interface {
	SupplyTicket(code string)
	TestTicket(ctx context.Context, p string) (bool, error)
	StreamTicket(ctx context.Context, p string) (*Stream, error)
	Close() error
}

// CleanPath normalises a logical backend path to an absolute slash path.
func CleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// Join builds a logical backend path from its elements.
func Join(elem ...string) string {
	return CleanPath(path.Join(elem...))
}

// IsUnavailable reports whether err means the backend could not be reached in time.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// ContentTypeFor guesses the content type of a data object from its extension.
func ContentTypeFor(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ext == ".zip" {
		return "application/zip"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var (
	_ Backend = (*FileBackend)(nil)
	_ Backend = (*S3Backend)(nil)
)
