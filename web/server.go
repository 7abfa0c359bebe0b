// Package web serves a dashboard to monitor a training run: current status and
// settings, loss curves plotted as SVG and the latest generated samples. Updates
// are pushed to the page over a websocket.
package web

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goji/httpauth"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/jnb666/mirage/gan"
	"github.com/jnb666/mirage/stats"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config is the settings view shown on the status page.
type Config interface {
	Fields() []string
	Get(key string) interface{}
}

// Server monitors a training run and serves the dashboard. It implements the
// gan.Monitor interface so it can be passed directly to the trainer.
type Server struct {
	sync.Mutex
	conf   Config
	hist   *stats.History
	outDir string
	tmpl   *template.Template
	conn   *websocket.Conn
	latest gan.Snapshot
	stop   bool
}

// NewServer creates the dashboard for the given run settings and history.
func NewServer(conf Config, hist *stats.History, outDir string) (*Server, error) {
	tmpl, err := template.New("status").Parse(statusPage)
	if err != nil {
		return nil, err
	}
	return &Server{conf: conf, hist: hist, outDir: outDir, tmpl: tmpl}, nil
}

// Epoch is called by the trainer after each epoch. It records the latest snapshot,
// notifies any connected page and reports whether a stop was requested.
func (s *Server) Epoch(snap gan.Snapshot) bool {
	s.Lock()
	defer s.Unlock()
	s.latest = snap
	if s.conn != nil {
		msg := fmt.Sprintf("%d:%d", snap.Scale, snap.Epoch)
		if err := s.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			s.conn = nil
		}
	}
	return s.stop
}

// Router sets up the route handlers.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.status())
	r.HandleFunc("/stop", s.stopHandler())
	r.HandleFunc("/plot.svg", s.plot())
	r.HandleFunc("/sample/{scale:[0-9]+}/{epoch:[0-9]+}", s.sample())
	r.HandleFunc("/ws", s.websocket())
	return r
}

// ListenAndServe starts the server. If auth is set in user:pass format then all
// routes require basic authentication.
func (s *Server) ListenAndServe(addr, auth string) error {
	var handler http.Handler = s.Router()
	if auth != "" {
		user, pass, ok := strings.Cut(auth, ":")
		if !ok {
			return fmt.Errorf("web: auth should be in user:pass format")
		}
		handler = httpauth.SimpleBasicAuth(user, pass)(handler)
	}
	fmt.Printf("serving dashboard at http://localhost%s\n", addr)
	return http.ListenAndServe(addr, handler)
}

// Handler function for the status page
func (s *Server) status() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()
		data := statusData{
			Snap:    s.latest,
			Elapsed: s.latest.Elapsed.Round(100 * time.Millisecond).String(),
			Losses:  lossRows(s.hist),
		}
		for _, key := range s.conf.Fields() {
			data.Settings = append(data.Settings, setting{Name: key, Value: fmt.Sprint(s.conf.Get(key))})
		}
		if err := s.tmpl.Execute(w, data); err != nil {
			logError(w, err)
		}
	}
}

// Handler function to request a stop at the end of the current epoch
func (s *Server) stopHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		s.stop = true
		s.Unlock()
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

// Handler function for the loss plot
func (s *Server) plot() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()
		w.Header().Set("Content-type", "image/svg+xml")
		if err := writeLossPlot(w, s.hist, 800, 400); err != nil {
			logError(w, err)
		}
	}
}

// Handler function for the sample images saved during training
func (s *Server) sample() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		scale, _ := strconv.Atoi(vars["scale"])
		epoch, _ := strconv.Atoi(vars["epoch"])
		file := path.Join(s.outDir, fmt.Sprintf("fake_%d_%d.png", scale, epoch))
		if _, err := os.Stat(file); err != nil {
			file = path.Join(s.outDir, fmt.Sprintf("%d.png", epoch))
		}
		http.ServeFile(w, r, file)
	}
}

// Handler function for the websocket connection
func (s *Server) websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logError(w, err)
			return
		}
		s.Lock()
		s.conn = conn
		s.Unlock()
	}
}

type statusData struct {
	Snap     gan.Snapshot
	Elapsed  string
	Losses   []lossRow
	Settings []setting
}

type setting struct {
	Name  string
	Value string
}

// lossRow is the per series summary on the status page: the latest value, an exponential
// moving average over the last smoothWindow epochs and the overall mean with deviation.
type lossRow struct {
	Name   string
	Latest string
	Smooth string
	Mean   template.HTML
}

const smoothWindow = 20

func lossRows(hist *stats.History) []lossRow {
	var rows []lossRow
	for _, name := range hist.Names() {
		series := hist.Series(name)
		if len(series) == 0 {
			continue
		}
		var ema stats.EMA
		var avg stats.Average
		for _, p := range series {
			ema = stats.EMA(ema.Add(p.Value, smoothWindow))
			avg.Add(p.Value)
		}
		rows = append(rows, lossRow{
			Name:   name,
			Latest: fmt.Sprintf("%.4f", series[len(series)-1].Value),
			Smooth: fmt.Sprintf("%.4f", float64(ema)),
			Mean:   avg.HTML(),
		})
	}
	return rows
}

func logError(w http.ResponseWriter, err error) {
	log.Println(err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
