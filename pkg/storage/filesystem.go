package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const metaDir = ".meta"

type objectRecord struct {
	Owner    string            `json:"owner,omitempty"`
	Inherit  bool              `json:"inherit,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FileBackend stores collections as directories under a base directory. Metadata and
// ownership records live in JSON sidecars under a hidden .meta tree.
type FileBackend struct {
	baseDir string
	signer  *TicketSigner
	mu      sync.Mutex
}

// NewFileBackend ensures the base directory exists and returns a handle.
func NewFileBackend(baseDir string, signer *TicketSigner) (*FileBackend, error) {
	if baseDir == "" {
		baseDir = "./data"
	}
	if signer == nil {
		return nil, fmt.Errorf("ticket signer required")
	}
	if err := os.MkdirAll(filepath.Join(baseDir, metaDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileBackend{baseDir: baseDir, signer: signer}, nil
}

// Exists reports whether p is a collection or a data object.
func (b *FileBackend) Exists(_ context.Context, p string) (bool, error) {
	_, err := b.stat(p)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IsCollection reports whether p is a directory.
func (b *FileBackend) IsCollection(_ context.Context, p string) (bool, error) {
	info, err := b.stat(p)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// IsDataObject reports whether p is a regular file.
func (b *FileBackend) IsDataObject(_ context.Context, p string) (bool, error) {
	info, err := b.stat(p)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// List returns the children of a collection keyed by name.
func (b *FileBackend) List(_ context.Context, p string) (map[string]Entry, error) {
	dirEntries, err := os.ReadDir(b.resolve(p))
	if err != nil {
		return nil, translateFSError(err)
	}

	logical := CleanPath(p)
	entries := make(map[string]Entry, len(dirEntries))
	for _, d := range dirEntries {
		if d.Name() == metaDir {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entry := Entry{
			Name:       d.Name(),
			Path:       Join(logical, d.Name()),
			ModifiedAt: info.ModTime().UTC(),
			Collection: d.IsDir(),
		}
		if !d.IsDir() {
			entry.ContentLength = info.Size()
		}
		entries[d.Name()] = entry
	}
	return entries, nil
}

// CreateCollectionInheritable creates the directory and records owner with inheritance.
func (b *FileBackend) CreateCollectionInheritable(_ context.Context, p, owner string) error {
	if err := os.MkdirAll(b.resolve(p), 0o755); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	record, err := b.readRecord(p)
	if err != nil {
		return err
	}
	record.Owner = owner
	record.Inherit = true
	return b.writeRecord(p, record)
}

// GetMetadata returns the key/value metadata attached to p.
func (b *FileBackend) GetMetadata(_ context.Context, p string) (map[string]string, error) {
	if _, err := b.stat(p); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	record, err := b.readRecord(p)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(record.Metadata))
	for k, v := range record.Metadata {
		out[k] = v
	}
	return out, nil
}

// SetMetadata merges values into the metadata of p.
func (b *FileBackend) SetMetadata(_ context.Context, p string, values map[string]string) error {
	if _, err := b.stat(p); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	record, err := b.readRecord(p)
	if err != nil {
		return err
	}
	if record.Metadata == nil {
		record.Metadata = make(map[string]string, len(values))
	}
	for k, v := range values {
		record.Metadata[k] = v
	}
	return b.writeRecord(p, record)
}

// RemoveMetadata deletes one key. Removing an absent key is not an error.
func (b *FileBackend) RemoveMetadata(_ context.Context, p, key string) error {
	if _, err := b.stat(p); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	record, err := b.readRecord(p)
	if err != nil {
		return err
	}
	if _, ok := record.Metadata[key]; !ok {
		return nil
	}
	delete(record.Metadata, key)
	return b.writeRecord(p, record)
}

// Remove deletes p and its sidecars. Collections require recursive.
func (b *FileBackend) Remove(_ context.Context, p string, recursive bool) error {
	info, err := b.stat(p)
	if err != nil {
		return err
	}

	target := b.resolve(p)
	if info.IsDir() && recursive {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", CleanPath(p), err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_ = os.Remove(b.recordPath(p))
	if info.IsDir() {
		_ = os.RemoveAll(filepath.Join(b.baseDir, metaDir, filepath.FromSlash(CleanPath(p))))
	}
	return nil
}

// IssueTicket returns a signed ticket for an existing data object.
func (b *FileBackend) IssueTicket(ctx context.Context, p string) (string, error) {
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
func (b *FileBackend) AnonymousSession(_ context.Context) (TicketSession, error) {
	return &fileTicketSession{backend: b}, nil
}

func (b *FileBackend) stat(p string) (os.FileInfo, error) {
	info, err := os.Stat(b.resolve(p))
	if err != nil {
		return nil, translateFSError(err)
	}
	return info, nil
}

func (b *FileBackend) resolve(p string) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(CleanPath(p)))
}

func (b *FileBackend) recordPath(p string) string {
	return filepath.Join(b.baseDir, metaDir, filepath.FromSlash(CleanPath(p))+".json")
}

func (b *FileBackend) readRecord(p string) (objectRecord, error) {
	var record objectRecord
	raw, err := os.ReadFile(b.recordPath(p))
	if errors.Is(err, fs.ErrNotExist) {
		return record, nil
	}
	if err != nil {
		return record, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return record, fmt.Errorf("decode metadata: %w", err)
	}
	return record, nil
}

func (b *FileBackend) writeRecord(p string, record objectRecord) error {
	target := b.recordPath(p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("prepare metadata directory: %w", err)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return os.Rename(tmp, target)
}

func translateFSError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

type fileTicketSession struct {
	backend *FileBackend
	ticket  string
}

func (s *fileTicketSession) SupplyTicket(code string) {
	s.ticket = code
}

func (s *fileTicketSession) TestTicket(ctx context.Context, p string) (bool, error) {
	if s.ticket == "" {
		return false, nil
	}
	if err := s.backend.signer.Verify(s.ticket, p); err != nil {
		return false, nil
	}
	return s.backend.IsDataObject(ctx, p)
}

func (s *fileTicketSession) StreamTicket(ctx context.Context, p string) (*Stream, error) {
	ok, err := s.TestTicket(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTicket
	}

	file, err := os.Open(s.backend.resolve(p))
	if err != nil {
		return nil, translateFSError(err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	return &Stream{Body: file, Size: info.Size(), ContentType: ContentTypeFor(p)}, nil
}

func (s *fileTicketSession) Close() error {
	s.ticket = ""
	return nil
}
