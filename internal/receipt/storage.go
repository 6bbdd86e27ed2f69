package receipt

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Storage defines the interface for receipt image storage.
// New images land in the inbox; ingested ones are archived to the processed area.
type Storage interface {
	// Save writes a file into the inbox and returns its name
	Save(filename string, data []byte) (string, error)

	// Get reads an inbox file
	Get(name string) ([]byte, error)

	// List returns the names of inbox images waiting for ingestion
	List() ([]string, error)

	// Archive moves an inbox file to the processed area
	Archive(name string) error
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath      string
	processedPath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath, processedPath string) (*LocalStorage, error) {
	for _, dir := range []string{basePath, processedPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	return &LocalStorage{
		basePath:      basePath,
		processedPath: processedPath,
	}, nil
}

// BasePath returns the inbox directory
func (l *LocalStorage) BasePath() string {
	return l.basePath
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

// Save saves a file to local storage
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	if err := validName(filename); err != nil {
		return "", err
	}
	path := filepath.Join(l.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.basePath, name))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// List returns supported image files in the inbox, sorted by name
func (l *LocalStorage) List() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("reading inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsSupportedImage(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Archive moves a file into the processed directory.
// It tries an atomic rename and falls back to copy and remove across filesystems.
func (l *LocalStorage) Archive(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	src := filepath.Join(l.basePath, name)
	dst := filepath.Join(l.processedPath, name)
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating archived file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copying file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("closing archived file: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing inbox file: %w", err)
	}
	return nil
}

// IsSupportedImage reports whether a file name has an extension the scanners accept
func IsSupportedImage(name string) bool {
	return contentTypeFor(name) != "application/octet-stream"
}

// contentTypeFor maps a file extension to the MIME type handed to the scanner
func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
