// Package httpapi exposes the capnpcore engine over HTTP for the serve
// command: decode/canonicalize endpoints plus health and metrics,
// routed with go-chi/chi the way cloudflared's management service routes
// its own diagnostic endpoints.
package httpapi

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	capnpcore "github.com/cloudflare/capnpcore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const namespace = "capnpcore"

var requestMetrics = struct {
	requestsTotal   *prometheus.CounterVec
	decodeErrors    prometheus.Counter
	bytesDecoded    prometheus.Counter
	segmentsDecoded prometheus.Counter
}{
	requestsTotal: promauto.NewCounterVec(
		prometheus.CounterOpts{ //nolint:promlinter
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Number of HTTP requests served, by route and status",
		},
		[]string{"route", "status"},
	),
	decodeErrors: promauto.NewCounter(
		prometheus.CounterOpts{ //nolint:promlinter
			Namespace: namespace,
			Subsystem: "http",
			Name:      "decode_errors_total",
			Help:      "Number of /decode and /canonicalize requests that failed",
		},
	),
	bytesDecoded: promauto.NewCounter(
		prometheus.CounterOpts{ //nolint:promlinter
			Namespace: namespace,
			Subsystem: "http",
			Name:      "bytes_decoded_total",
			Help:      "Total bytes of message body successfully decoded",
		},
	),
	segmentsDecoded: promauto.NewCounter(
		prometheus.CounterOpts{ //nolint:promlinter
			Namespace: namespace,
			Subsystem: "http",
			Name:      "segments_decoded_total",
			Help:      "Total segment count across successfully decoded messages",
		},
	),
}

// Server is the serve command's HTTP surface: a thin chi router in front
// of the wire-format engine's Decode/Canonicalize entry points.
type Server struct {
	log    *zerolog.Logger
	router chi.Router

	// TraversalLimitWords and NestingLimit bound every decode this server
	// performs, mirroring ReaderOptions.
	TraversalLimitWords uint64
	NestingLimit        int32
}

// New builds a Server, wiring its routes immediately so a caller need
// only call ServeHTTP or http.ListenAndServe with it.
func New(log *zerolog.Logger) *Server {
	s := &Server{log: log, TraversalLimitWords: 64 * 1024 * 1024, NestingLimit: 64}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequest)

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/decode", s.decode)
	r.Post("/canonicalize", s.canonicalize)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		requestMetrics.requestsTotal.WithLabelValues(r.URL.Path, http.StatusText(ww.Status())).Inc()
		s.log.Debug().Str("request_id", reqID).Str("path", r.URL.Path).Int("status", ww.Status()).Msg("http request")
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// decodeResponse reports the shape of a successfully decoded message: its
// segment table, total segment bytes and whether it is canonical, not a
// field-by-field dump,
// since that requires schema knowledge this engine deliberately doesn't
// have.
type decodeResponse struct {
	SegmentCount int      `json:"segmentCount"`
	SegmentSizes []uint64 `json:"segmentSizesWords"`
	TotalBytes   uint64   `json:"totalBytes"`
	Canonical    bool     `json:"canonical"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	requestMetrics.decodeErrors.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// decode parses a framed Cap'n Proto message from the request body and
// reports its segment layout.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.TraversalLimitWords)*8+4096))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := capnpcore.DecodeFromBuffer(body, capnpcore.ReaderOptions{
		TraversalLimitInWords: s.TraversalLimitWords,
		NestingLimit:          s.NestingLimit,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := decodeResponse{SegmentCount: int(msg.NumSegments())}
	var total uint64
	for i := int64(0); i < msg.NumSegments(); i++ {
		seg, err := msg.Segment(capnpcore.SegmentID(i))
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		words := uint64(seg.Len()) / 8
		resp.SegmentSizes = append(resp.SegmentSizes, words)
		total += uint64(seg.Len())
	}
	resp.TotalBytes = total
	if canon, err := capnpcore.IsCanonical(msg); err == nil {
		resp.Canonical = canon
	}

	requestMetrics.bytesDecoded.Add(float64(len(body)))
	requestMetrics.segmentsDecoded.Add(float64(resp.SegmentCount))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// canonicalize parses a framed message, canonicalizes its root struct, and
// returns the canonical bytes directly (not JSON), so the response can be
// piped straight back into another capnpcore tool.
func (s *Server) canonicalize(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.TraversalLimitWords)*8+4096))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := capnpcore.DecodeFromBuffer(body, capnpcore.ReaderOptions{
		TraversalLimitInWords: s.TraversalLimitWords,
		NestingLimit:          s.NestingLimit,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	root, err := msg.Root()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	canon, err := capnpcore.Canonicalize(root.Struct())
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(canon)
}
