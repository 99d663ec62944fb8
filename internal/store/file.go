package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

const (
	sessionFile  = "session.json"
	snapshotFile = "spec_snapshot.json"
)

var validSessionID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// FileStore keeps one directory per session under root:
//
//	<root>/<session-id>/session.json
//	<root>/<session-id>/spec_snapshot.json
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) dir(id string) (string, error) {
	if !validSessionID.MatchString(id) {
		return "", schema.NewErrorf(schema.ErrCodeStore, "invalid session id %q", id)
	}
	return filepath.Join(s.root, id), nil
}

func (s *FileStore) Load(_ context.Context, id string) (*schema.SessionState, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, sessionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, storeErr("read session", err)
	}
	var st schema.SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, storeErr("decode session", err)
	}
	return &st, nil
}

// Save writes the state to a temp file, fsyncs it, and renames it over the
// previous checkpoint so readers never observe a partial write.
func (s *FileStore) Save(_ context.Context, state *schema.SessionState, specSnapshot []byte) error {
	if err := validateState(state); err != nil {
		return err
	}
	dir, err := s.dir(state.Metadata.SessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storeErr("create session dir", err)
	}
	if specSnapshot != nil {
		if err := writeOnce(filepath.Join(dir, snapshotFile), specSnapshot); err != nil {
			return storeErr("write spec snapshot", err)
		}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return storeErr("encode session", err)
	}
	if err := writeAtomic(dir, sessionFile, data); err != nil {
		return storeErr("write session", err)
	}
	return nil
}

func (s *FileStore) LoadSpecSnapshot(_ context.Context, id string) ([]byte, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storeNotFound("spec snapshot", id)
	}
	if err != nil {
		return nil, storeErr("read spec snapshot", err)
	}
	return data, nil
}

func (s *FileStore) List(ctx context.Context, filter Filter) ([]*schema.SessionMetadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	var all []*schema.SessionMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := s.Load(ctx, e.Name())
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		all = append(all, &st.Metadata)
	}
	return filter.apply(all), nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, sessionFile)); errors.Is(err, fs.ErrNotExist) {
		return storeNotFound("session", id)
	}
	if err := os.RemoveAll(dir); err != nil {
		return storeErr("delete session", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		cleanup()
		return err
	}
	return nil
}

// writeOnce creates path exclusively; an existing file is left untouched.
func writeOnce(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
