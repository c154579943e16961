package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/build/queue"
	"git.home.luguber.info/inful/texbuilder/internal/compiler"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

const multipartMemory = 32 << 20

// Compiler runs compile requests.
type Compiler interface {
	Compile(ctx context.Context, req compiler.Request) (*compiler.Outcome, error)
}

// CompileRequest is the JSON body of POST /compile.
type CompileRequest struct {
	ProjectID      string            `json:"projectId"`
	Files          map[string]string `json:"files"`
	BinaryFiles    map[string]string `json:"binaryFiles"`
	DeletedFiles   []string          `json:"deletedFiles"`
	MainFile       string            `json:"mainFile"`
	Engine         string            `json:"engine"`
	Mode           string            `json:"mode"`
	TimeoutSeconds int               `json:"timeoutSeconds"`
}

// CompileHandlers serves the compile entry points.
type CompileHandlers struct {
	compiler     Compiler
	zipLimit     int64
	errorAdapter *errors.HTTPErrorAdapter
	logger       *slog.Logger
}

// NewCompileHandlers returns compile handlers. zipLimit caps the uncompressed
// size of uploaded archives; 0 disables the cap.
func NewCompileHandlers(c Compiler, zipLimit int64, logger *slog.Logger) *CompileHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompileHandlers{
		compiler:     c,
		zipLimit:     zipLimit,
		errorAdapter: errors.NewHTTPErrorAdapter(logger),
		logger:       logger,
	}
}

// HandleCompile compiles a JSON fileset.
func (h *CompileHandlers) HandleCompile(w http.ResponseWriter, r *http.Request) {
	var body CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, bodyError(err, "invalid JSON body"))
		return
	}
	mode, err := compiler.ParseMode(body.Mode)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if body.TimeoutSeconds < 0 {
		h.errorAdapter.WriteErrorResponse(w, r, errors.ValidationError("timeoutSeconds must not be negative").
			WithContext("timeoutSeconds", body.TimeoutSeconds).
			Build())
		return
	}

	h.compile(w, r, compiler.Request{
		ProjectID:   body.ProjectID,
		Files:       body.Files,
		BinaryFiles: body.BinaryFiles,
		Deleted:     body.DeletedFiles,
		MainFile:    body.MainFile,
		Engine:      body.Engine,
		Mode:        mode,
		PassTimeout: time.Duration(body.TimeoutSeconds) * time.Second,
		Source:      queue.SourceJSON,
	})
}

// HandleCompileZip compiles a project uploaded as the multipart field "project".
func (h *CompileHandlers) HandleCompileZip(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, bodyError(err, "invalid multipart form"))
		return
	}
	archive, present, err := h.formZip(r, "project")
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if !present {
		h.errorAdapter.WriteErrorResponse(w, r, errors.ValidationError("no ZIP archive received").
			WithContext("field", "project").
			Build())
		return
	}

	h.compile(w, r, compiler.Request{
		ProjectID: r.FormValue("projectId"),
		Archive:   archive,
		MainFile:  r.FormValue("mainFile"),
		Engine:    r.FormValue("engine"),
		Mode:      compiler.ModeFull,
		Source:    queue.SourceZip,
	})
}

// HandleCompileDelta applies deletions and an optional delta archive to an
// existing project workspace and compiles it. A missing workspace answers 410.
func (h *CompileHandlers) HandleCompileDelta(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, bodyError(err, "invalid multipart form"))
		return
	}

	var deleted []string
	if raw := r.FormValue("deleted_files"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &deleted); err != nil {
			h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryValidation, "deleted_files must be a JSON array of paths").Build())
			return
		}
	}
	archive, _, err := h.formZip(r, "delta_zip")
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	h.compile(w, r, compiler.Request{
		ProjectID: r.FormValue("projectId"),
		Deleted:   deleted,
		Archive:   archive,
		MainFile:  r.FormValue("mainFile"),
		Engine:    r.FormValue("engine"),
		Mode:      compiler.ModeDelta,
		Source:    queue.SourceDelta,
	})
}

func (h *CompileHandlers) formZip(r *http.Request, field string) (workspace.FileDelta, bool, error) {
	file, header, err := r.FormFile(field)
	if stderrors.Is(err, http.ErrMissingFile) {
		return workspace.FileDelta{}, false, nil
	}
	if err != nil {
		return workspace.FileDelta{}, false, bodyError(err, "cannot read uploaded archive")
	}
	defer file.Close()

	delta, err := workspace.DeltaFromZip(file, header.Size, h.zipLimit)
	if err != nil {
		return workspace.FileDelta{}, true, err
	}
	return delta, true, nil
}

func (h *CompileHandlers) compile(w http.ResponseWriter, r *http.Request, req compiler.Request) {
	outcome, err := h.compiler.Compile(r.Context(), req)
	defer outcome.Close()
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	f, err := outcome.OpenArtifact()
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryInternal, "failed to stat artifact").Build())
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/pdf")
	hdr.Set("Content-Disposition", `attachment; filename="`+outcome.ArtifactName()+`"`)
	hdr.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	hdr.Set("X-Build-ID", outcome.BuildID)
	hdr.Set("X-Build-Engine", outcome.Engine)
	hdr.Set("X-Build-Passes", strconv.Itoa(outcome.EnginePasses()))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("Artifact stream interrupted", logfields.BuildID(outcome.BuildID), logfields.Error(err))
	}
}

// bodyError classifies request body failures, mapping the body limit to 413.
func bodyError(err error, message string) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.TooLargeError("request body too large").
			WithContext("limit_bytes", tooLarge.Limit).
			Build()
	}
	return errors.WrapError(err, errors.CategoryValidation, message).Build()
}
