package workspace

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/zip"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// emptyZipSize is the size of an archive holding only an end-of-central-directory record.
const emptyZipSize = 22

// DeltaFromZip converts a ZIP archive into a delta of upserts. Directories and
// symlinks are skipped and every entry name must pass ValidatePath. limit caps the
// total uncompressed size (0 disables the cap).
func DeltaFromZip(r io.ReaderAt, size, limit int64) (FileDelta, error) {
	if size <= emptyZipSize {
		return FileDelta{}, nil
	}
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return FileDelta{}, errors.WrapError(err, errors.CategoryValidation, "invalid ZIP archive").Build()
	}

	var (
		delta FileDelta
		total int64
	)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") || f.Mode()&fs.ModeSymlink != 0 {
			continue
		}
		rel, err := ValidatePath(f.Name)
		if err != nil {
			return FileDelta{}, err
		}

		data, err := readEntry(f, limit-total, limit > 0)
		if err != nil {
			return FileDelta{}, err
		}
		total += int64(len(data))
		delta.Upserts = append(delta.Upserts, SourceFile{Path: rel, Content: string(data), Encoding: EncodingRaw})
	}
	return delta, nil
}

func readEntry(f *zip.File, remaining int64, capped bool) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, fmt.Sprintf("cannot open ZIP entry %q", f.Name)).Build()
	}
	defer rc.Close()

	var src io.Reader = rc
	if capped {
		src = io.LimitReader(rc, remaining+1)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, fmt.Sprintf("cannot read ZIP entry %q", f.Name)).Build()
	}
	if capped && int64(buf.Len()) > remaining {
		return nil, errors.TooLargeError("ZIP archive exceeds the uncompressed size limit").
			WithContext("limit_bytes", remaining).
			Build()
	}
	return buf.Bytes(), nil
}
