package api

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"text/template"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"upldis/metrics"
	"upldis/pkg/domain"
	"upldis/svc/svc"
	"upldis/svc/util"
)

type Hdl struct {
	paste *svc.Paste
	tmpl  *template.Template
}

func NewHdl(p *svc.Paste) *Hdl {
	return &Hdl{
		paste: p,
		tmpl:  template.Must(template.New("info").Parse(infoTemplate)),
	}
}

// Upload handles PUT /[...]/[filename]. The body is the paste.
func (h *Hdl) Upload(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	body, err := readBody(r, h.paste.Limits().MaxContentSize)
	if err != nil {
		if domain.IsValidation(err) {
			metrics.UploadsRejected.WithLabelValues(domain.AsErr(err).Code).Inc()
		}
		writeErr(w, r, err)
		return
	}
	filename := lastSegment(r.URL.EscapedPath())
	up, err := h.paste.Upload(r.Context(), domain.UploadParams{
		Body:     body,
		Host:     publicHost(r),
		Filename: filename,
	})
	if err != nil {
		if domain.IsValidation(err) {
			log.Debug().
				Err(err).
				Int("size", len(body)).
				Str("request_id", util.GetRequestID(r.Context())).
				Msg("upload rejected")
		}
		writeErr(w, r, err)
		return
	}
	log.Info().
		Str("id", up.ID).
		Bool("created", up.Created).
		Str("filename", util.RedactFilename(filename)).
		Str("request_id", util.GetRequestID(r.Context())).
		Msg("upload stored")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-CID", up.CID)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, up.Location+"\n")
}

// Retrieve handles GET /<id>[/...]. Anything after the id is ignored.
func (h *Hdl) Retrieve(w http.ResponseWriter, r *http.Request) {
	id, _, _ := strings.Cut(chi.URLParam(r, "*"), "/")
	got, err := h.paste.Retrieve(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	cacheStatus := "MISS"
	if got.Tier == domain.TierEdge {
		cacheStatus = "HIT"
	}
	w.Header().Set("Content-Type", http.DetectContentType(got.Data))
	w.Header().Set("Content-Length", strconv.Itoa(len(got.Data)))
	w.Header().Set("X-Cache", cacheStatus)
	w.Header().Set("X-Content-CID", util.ContentCID(got.Data))
	w.WriteHeader(http.StatusOK)
	w.Write(got.Data)
}

// Info renders the usage page for GET /.
func (h *Hdl) Info(w http.ResponseWriter, r *http.Request) {
	count, err := h.paste.Stats().Count(r.Context())
	if err != nil {
		hlog.FromRequest(r).Warn().
			Err(err).
			Str("request_id", util.GetRequestID(r.Context())).
			Msg("upload count unavailable")
		count = 0
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := h.tmpl.Execute(w, newInfoPage(publicHost(r), h.paste.Limits(), count)); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render info page")
	}
}

// Forbidden answers every method and path outside the paste surface.
func (h *Hdl) Forbidden(w http.ResponseWriter, r *http.Request) {
	writeErr(w, r, domain.ErrInvalidRequest)
}

// readBody returns nil when the request carried no body. At most max+1
// bytes are read so oversized chunked uploads still fail as too large.
func readBody(r *http.Request, max int) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil, nil
	}
	if r.ContentLength > int64(max) {
		return nil, domain.ErrTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(max)+1))
	if err != nil {
		return nil, errors.Wrap(err, "read upload body")
	}
	return body, nil
}
// publicHost is the request host without its port. Links always use https,
// so a listener port is never part of them.
func publicHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		return r.Host
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	e := domain.AsErr(err)
	if e.Status >= 500 {
		hlog.FromRequest(r).Error().
			Err(err).
			Str("request_id", util.GetRequestID(r.Context())).
			Msg("request failed")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(e.Status)
	io.WriteString(w, e.Msg)
}
