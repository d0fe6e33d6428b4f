// Package monitoring serves a web page and a JSON API that show the engine,
// the processors and their access servers while the program runs.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/procaccess/access"
	"github.com/sarchlab/procaccess/monitoring/web"
	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
)

const (
	minPortNumber     = 1000
	maxProfileSeconds = 30
)

// Monitor turns the program into a web server that allows monitoring and
// pausing the engine.
type Monitor struct {
	engine     sim.Engine
	manager    *access.Manager
	processors []*processor.Processor
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
	transfers        map[transferKey]*ProgressBar

	server *http.Server
}

// NewMonitor creates a Monitor that listens on a random port.
func NewMonitor() *Monitor {
	return &Monitor{
		transfers: make(map[transferKey]*ProgressBar),
	}
}

// WithPortNumber sets the port the monitor listens on. Well-known ports are
// refused and replaced by a random one.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 0 || (portNumber != 0 && portNumber < minPortNumber) {
		fmt.Fprintf(os.Stderr,
			"Monitor cannot use port %d, using a random port instead.\n",
			portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine that owns the processors.
func (m *Monitor) RegisterEngine(e sim.Engine) {
	m.engine = e
}

// RegisterManager registers the manager whose servers are reported.
func (m *Monitor) RegisterManager(mgr *access.Manager) {
	m.manager = mgr
}

// RegisterProcessor adds a processor to be monitored.
func (m *Monitor) RegisterProcessor(p *processor.Processor) {
	m.processors = append(m.processors, p)
}

// Handler returns the routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pause", m.pauseEngine).Methods(http.MethodPost)
	api.HandleFunc("/continue", m.continueEngine).Methods(http.MethodPost)
	api.HandleFunc("/now", m.now).Methods(http.MethodGet)
	api.HandleFunc("/processors", m.listProcessors).Methods(http.MethodGet)

	proc := api.PathPrefix("/processor/{x:[0-9]+}/{y:[0-9]+}").Subrouter()
	proc.HandleFunc("/status", m.processorStatus).Methods(http.MethodGet)
	proc.HandleFunc("/descriptor", m.processorDescriptor).Methods(http.MethodGet)
	proc.HandleFunc("/field/{path}", m.processorField).Methods(http.MethodGet)

	api.HandleFunc("/progress", m.listProgressBars).Methods(http.MethodGet)
	api.HandleFunc("/resource", m.listResources).Methods(http.MethodGet)
	api.HandleFunc("/profile", m.collectProfile).Methods(http.MethodGet)

	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor in the background and returns the port it
// listens on.
func (m *Monitor) StartServer() int {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Fprintf(os.Stderr,
		"Monitoring processors with http://localhost:%d\n", port)

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			dieOnErr(err)
		}
	}()

	return port
}

// StopServer closes the web server.
func (m *Monitor) StopServer() {
	if m.server != nil {
		m.server.Close()
	}
}

type pausable interface {
	IsPaused() bool
}

type nowRsp struct {
	Tick   uint64 `json:"tick"`
	Paused bool   `json:"paused"`
}

func (m *Monitor) engineState() nowRsp {
	rsp := nowRsp{Tick: m.engine.CurrentTick()}
	if p, ok := m.engine.(pausable); ok {
		rsp.Paused = p.IsPaused()
	}

	return rsp
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	writeJSON(w, m.engineState())
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Continue()
	writeJSON(w, m.engineState())
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.engineState())
}

type processorRsp struct {
	Name    string `json:"name"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Valid   bool   `json:"valid"`
	Address string `json:"address,omitempty"`
	Running bool   `json:"running"`
}

func (m *Monitor) listProcessors(w http.ResponseWriter, r *http.Request) {
	rsp, err := sim.RunOnSimThread(r.Context(), m.engine,
		func() ([]processorRsp, error) {
			list := make([]processorRsp, 0, len(m.processors))
			for _, p := range m.processors {
				x, y := p.Position()
				list = append(list, processorRsp{
					Name:  p.Name(),
					X:     x,
					Y:     y,
					Valid: p.Valid(),
				})
			}

			return list, nil
		})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	for i, p := range m.processors {
		if m.manager == nil {
			break
		}

		if s, ok := m.manager.Server(p.ID()); ok {
			rsp[i].Running = s.Running()
			if addr := s.Addr(); addr != nil {
				rsp[i].Address = addr.String()
			}
		}
	}

	writeJSON(w, rsp)
}

func (m *Monitor) processorStatus(w http.ResponseWriter, r *http.Request) {
	p := m.findProcessorOr404(w, r)
	if p == nil {
		return
	}

	s, err := sim.RunOnSimThread(r.Context(), m.engine,
		func() (processor.Status, error) {
			return p.Status(), nil
		})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, s)
}

func (m *Monitor) processorDescriptor(w http.ResponseWriter, r *http.Request) {
	p := m.findProcessorOr404(w, r)
	if p == nil {
		return
	}

	desc := p.Descriptor()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&desc)
	serializer.SetMaxDepth(3)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) processorField(w http.ResponseWriter, r *http.Request) {
	p := m.findProcessorOr404(w, r)
	if p == nil {
		return
	}

	desc := p.Descriptor()
	fields := strings.Split(mux.Vars(r)["path"], ".")

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&desc)
	serializer.SetMaxDepth(1)

	if err := serializer.SetEntryPoint(fields); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findProcessorOr404(
	w http.ResponseWriter,
	r *http.Request,
) *processor.Processor {
	vars := mux.Vars(r)

	x, errX := strconv.Atoi(vars["x"])
	y, errY := strconv.Atoi(vars["y"])

	if errX == nil && errY == nil {
		for _, p := range m.processors {
			if px, py := p.Position(); px == x && py == y {
				return p
			}
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Processor not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
	Goroutines int     `json:"goroutines"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := self.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	mem, err := self.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: mem.RSS,
		Goroutines: runtime.NumGoroutine(),
	})
}

// collectProfile samples the CPU for the number of seconds given by the
// seconds query parameter, one by default.
func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second

	if v := r.URL.Query().Get("seconds"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 1 || seconds > maxProfileSeconds {
			http.Error(w, "seconds must be between 1 and "+
				strconv.Itoa(maxProfileSeconds), http.StatusBadRequest)
			return
		}

		duration = time.Duration(seconds) * time.Second
	}

	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	select {
	case <-time.After(duration):
	case <-r.Context().Done():
	}

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
