package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/matzehuels/eqrender/pkg/artifact"
	"github.com/matzehuels/eqrender/pkg/buildinfo"
	"github.com/matzehuels/eqrender/pkg/errors"
	"github.com/matzehuels/eqrender/pkg/pipeline"
	"github.com/matzehuels/eqrender/pkg/template"
)

type format struct {
	kind        artifact.Kind
	contentType string
}

var (
	formatPNG = format{kind: artifact.KindPNG, contentType: "image/png"}
	formatPDF = format{kind: artifact.KindPDF, contentType: "application/pdf"}
)

type renderRequest struct {
	Equation string `json:"equation"`
	Template string `json:"template,omitempty"`
	DPI      int    `json:"dpi,omitempty"`
	Width    int    `json:"width,omitempty"`
}

func (r *renderRequest) validate() error {
	r.Equation = strings.TrimSpace(r.Equation)
	if r.Equation == "" {
		return errors.New(errors.ErrCodeInvalidInput, "equation is required")
	}
	if len(r.Equation) > DefaultMaxEquation {
		return errors.New(errors.ErrCodeInvalidInput, "equation too long (max %d bytes)", DefaultMaxEquation)
	}
	if strings.ContainsAny(r.Equation, "\r\n") {
		return errors.New(errors.ErrCodeInvalidInput, "equation must be a single line")
	}
	if r.Template != "" {
		if err := errors.ValidateTemplateName(r.Template); err != nil {
			return err
		}
	}
	if r.DPI < 0 || r.DPI > pipeline.MaxDPI {
		return errors.New(errors.ErrCodeInvalidInput, "dpi must be between 1 and %d", pipeline.MaxDPI)
	}
	if r.Width < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "width must be positive")
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	names, err := template.List(s.cfg.TemplatesDir)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"templates": names})
}

func (s *Server) handleRender(f format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBody)

		var req renderRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if stderrors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
					Error: "request body too large",
					Code:  string(errors.ErrCodeInvalidInput),
				})
				return
			}
			s.writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid request body"))
			return
		}
		if err := req.validate(); err != nil {
			s.writeError(w, err)
			return
		}

		opts := pipeline.Options{
			Template:     pick(req.Template, s.cfg.Template),
			TemplatesDir: s.cfg.TemplatesDir,
			DPI:          pickInt(req.DPI, s.cfg.DPI),
			Width:        pickInt(req.Width, s.cfg.Width),
			Logger:       s.logger,
		}

		data, out, err := s.render(r.Context(), opts, req.Equation, f)
		if err != nil {
			s.writeError(w, err)
			return
		}

		h := w.Header()
		h.Set("Content-Type", f.contentType)
		h.Set("Content-Length", strconv.Itoa(len(data)))
		if f == formatPNG {
			h.Set("X-Image-Width", strconv.Itoa(out.Width))
			h.Set("X-Image-Height", strconv.Itoa(out.Height))
			h.Set("X-Cache", cacheStatus(out.PNGCached))
		} else {
			h.Set("X-Cache", cacheStatus(out.PDFCached))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// render runs one equation under a fresh key and returns the requested
// artifact. All final artifacts for the key are removed before returning.
func (s *Server) render(ctx context.Context, opts pipeline.Options, source string, f format) ([]byte, *pipeline.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := artifact.Single("req-" + uuid.NewString())
	store := s.runner.Store
	defer func() {
		for _, kind := range []artifact.Kind{artifact.KindPDF, artifact.KindPNG, artifact.KindLog} {
			if err := store.Remove(kind, key); err != nil {
				s.logger.Debug("could not remove artifact", "kind", kind, "key", key, "error", err)
			}
		}
	}()

	out, err := s.runner.RenderOne(ctx, opts, source, key)
	if err != nil {
		if out != nil && out.LogPath != "" {
			s.logger.Debug("render failed", "key", key, "log", out.LogPath)
		}
		return nil, out, err
	}
	data, err := store.Read(f.kind, key)
	if err != nil {
		return nil, out, errors.Wrap(errors.ErrCodeInternal, err, "read rendered %s", f.kind)
	}
	return data, out, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("render request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{
		Error: errors.UserMessage(err),
		Code:  string(errors.GetCode(err)),
	})
}

// statusFor maps error codes to HTTP status codes.
func statusFor(err error) int {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidTemplate, errors.ErrCodeInvalidName:
		return http.StatusBadRequest
	case errors.ErrCodeTemplateNotFound:
		return http.StatusNotFound
	case errors.ErrCodeCompileFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func cacheStatus(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func pickInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
