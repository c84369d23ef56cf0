// Package kujo serves the interlocking state over HTTP: an SSE stream of snapshots, the latest
// snapshot as JSON, and a status page.
package kujo

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"sync"

	"github.com/Masterminds/sprig/v3"
	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"nyiyui.ca/hato/shingo/interlock"
	"nyiyui.ca/hato/shingo/notify"
	"nyiyui.ca/hato/shingo/savestore"
)

//go:embed status.html
var templates embed.FS

const snapshotStream = "snapshot"

// SaveLister lists saved states for the status page.
type SaveLister interface {
	List() ([]savestore.Meta, error)
}

type Conf struct {
	AllowedOrigins []string
	Saves          SaveLister
}

type Server struct {
	conf Conf
	m    *notify.Multiplexer[interlock.Snapshot]
	ch   chan interlock.Snapshot
	s    *sse.Server
	t    *template.Template
	mux  *http.ServeMux
	log  *zap.SugaredLogger

	latestLock sync.RWMutex
	latest     *interlock.Snapshot
	done       chan struct{}
}

func NewServer(m *notify.Multiplexer[interlock.Snapshot], conf Conf) *Server {
	s := &Server{
		conf: conf,
		m:    m,
		ch:   make(chan interlock.Snapshot),
		s:    sse.New(),
		mux:  http.NewServeMux(),
		log:  zap.S().Named("kujo"),
		done: make(chan struct{}),
	}
	s.s.AutoReplay = false
	s.s.CreateStream(snapshotStream)
	s.t = template.Must(template.New("status").Funcs(sprig.FuncMap()).Funcs(template.FuncMap{
		"held": func(ss interlock.SectionSnapshot) bool {
			return len(ss.Occupied) > 0 || ss.Reserved >= 0 || ss.SignalReserved >= 0 || len(ss.Claims) > 0
		},
	}).ParseFS(templates, "*.html"))
	s.mux.Handle("/events", s.s)
	s.mux.HandleFunc("/status.json", s.handleStatus)
	s.mux.HandleFunc("/", s.handleIndex)
	m.Subscribe("kujo", s.ch)
	go s.forward()
	return s
}

func (s *Server) forward() {
	defer close(s.done)
	for snap := range s.ch {
		snap := snap
		s.latestLock.Lock()
		s.latest = &snap
		s.latestLock.Unlock()
		data, err := json.Marshal(snap)
		if err != nil {
			s.log.Errorw("marshal snapshot", "err", err)
			continue
		}
		s.s.TryPublish(snapshotStream, &sse.Event{
			Data: data,
		})
	}
}

// Close stops forwarding snapshots and closes the event streams.
func (s *Server) Close() {
	s.m.Unsubscribe(s.ch)
	close(s.ch)
	<-s.done
	s.s.Close()
}

func (s *Server) Latest() (interlock.Snapshot, bool) {
	s.latestLock.RLock()
	defer s.latestLock.RUnlock()
	if s.latest == nil {
		return interlock.Snapshot{}, false
	}
	return *s.latest, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.Latest()
	if !ok {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.log.Warnw("write status", "err", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	snap, ok := s.Latest()
	var saves []savestore.Meta
	if s.conf.Saves != nil {
		var err error
		saves, err = s.conf.Saves.List()
		if err != nil {
			s.log.Warnw("list saves", "err", err)
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.t.ExecuteTemplate(w, "status", map[string]interface{}{
		"ok":    ok,
		"snap":  snap,
		"saves": saves,
	})
	if err != nil {
		s.log.Errorw("render status", "err", err)
	}
}

// Handler returns the server's handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.conf.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(s.mux)
}
