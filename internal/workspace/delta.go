package workspace

import (
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// Encoding describes how SourceFile.Content is transported.
type Encoding int

const (
	// EncodingRaw content is written byte for byte (UTF-8 text or archive entries).
	EncodingRaw Encoding = iota
	// EncodingBase64 content is standard base64, optionally behind a data URL header.
	EncodingBase64
)

// SourceFile is one upsert entry of a FileDelta.
type SourceFile struct {
	Path     string
	Content  string
	Encoding Encoding
}

// TextFile returns a raw SourceFile.
func TextFile(rel, content string) SourceFile {
	return SourceFile{Path: rel, Content: content, Encoding: EncodingRaw}
}

// BinaryFile returns a base64 transported SourceFile.
func BinaryFile(rel, encoded string) SourceFile {
	return SourceFile{Path: rel, Content: encoded, Encoding: EncodingBase64}
}

// FileDelta is a set of upserts and deletions against a workspace.
// Deletions are applied before upserts.
type FileDelta struct {
	Upserts   []SourceFile
	Deletions []string
}

// Len returns the number of entries in the delta.
func (d FileDelta) Len() int {
	return len(d.Upserts) + len(d.Deletions)
}

// IsEmpty reports whether the delta has no entries.
func (d FileDelta) IsEmpty() bool {
	return d.Len() == 0
}

// Merge returns a delta containing the entries of d followed by those of other.
func (d FileDelta) Merge(other FileDelta) FileDelta {
	return FileDelta{
		Upserts:   append(append([]SourceFile(nil), d.Upserts...), other.Upserts...),
		Deletions: append(append([]string(nil), d.Deletions...), other.Deletions...),
	}
}

type preparedFile struct {
	rel  string
	data []byte
}

type preparedDelta struct {
	deletions []string
	upserts   []preparedFile
}

// prepare validates every path and decodes every payload. Nothing is touched on disk.
func prepare(d FileDelta) (*preparedDelta, error) {
	p := &preparedDelta{
		deletions: make([]string, 0, len(d.Deletions)),
		upserts:   make([]preparedFile, 0, len(d.Upserts)),
	}
	for _, raw := range d.Deletions {
		rel, err := ValidatePath(raw)
		if err != nil {
			return nil, err
		}
		p.deletions = append(p.deletions, rel)
	}
	for _, f := range d.Upserts {
		rel, err := ValidatePath(f.Path)
		if err != nil {
			return nil, err
		}
		data, err := decodeContent(f)
		if err != nil {
			return nil, err
		}
		p.upserts = append(p.upserts, preparedFile{rel: rel, data: data})
	}
	return p, nil
}

// ValidatePath checks that raw names a location strictly inside a workspace root and
// returns its cleaned slash-separated form.
func ValidatePath(raw string) (string, error) {
	reject := func(reason string) (string, error) {
		return "", errors.ValidationError(fmt.Sprintf("invalid path %q: %s", raw, reason)).
			WithContext("path", raw).
			Build()
	}

	switch {
	case raw == "":
		return reject("empty path")
	case strings.ContainsRune(raw, 0):
		return reject("contains NUL byte")
	case strings.HasPrefix(raw, "/"), filepath.IsAbs(raw):
		return reject("absolute path")
	case strings.HasPrefix(raw, `\`):
		return reject("backslash-rooted path")
	case hasDriveLetter(raw):
		return reject("drive letter prefix")
	}

	slashed := strings.ReplaceAll(raw, `\`, "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return reject("parent directory segment")
		}
	}

	clean := path.Clean(slashed)
	if clean == "." || clean == "/" {
		return reject("resolves to the workspace root")
	}
	return clean, nil
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func decodeContent(f SourceFile) ([]byte, error) {
	if f.Encoding != EncodingBase64 {
		return []byte(f.Content), nil
	}
	data, err := DecodeBase64(f.Content)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, fmt.Sprintf("invalid base64 content for %q", f.Path)).
			WithContext("path", f.Path).
			Build()
	}
	return data, nil
}

// DecodeBase64 decodes standard base64, dropping a leading data URL header
// ("data:application/pdf;base64,") and any embedded line breaks.
func DecodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		idx := strings.IndexByte(s, ',')
		if idx < 0 {
			return nil, fmt.Errorf("data URL without payload separator")
		}
		s = s[idx+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// apply mutates root according to a prepared delta.
func (p *preparedDelta) apply(root string) (int, error) {
	applied := 0
	for _, rel := range p.deletions {
		target := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.RemoveAll(target); err != nil {
			return applied, ioError(err, "failed to delete workspace entry", rel)
		}
		applied++
	}
	for _, f := range p.upserts {
		target := filepath.Join(root, filepath.FromSlash(f.rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return applied, ioError(err, "failed to create parent directory", f.rel)
		}
		if err := os.WriteFile(target, f.data, 0o640); err != nil {
			return applied, ioError(err, "failed to write workspace file", f.rel)
		}
		applied++
	}
	return applied, nil
}

func ioError(err error, msg, rel string) error {
	return errors.WrapError(err, errors.CategoryInternal, msg).
		WithContext("path", rel).
		Build()
}
