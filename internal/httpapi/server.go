// Package httpapi is the off-by-default diagnostic/admin surface: status,
// peer table, and a loopback-only manual job submission endpoint, built
// on the same go-martini/martini + martini-contrib stack the teacher
// uses for its own admin API (sched/http.go). Nothing in the core state
// machine depends on this package; it only reads the registry and, for
// POST /jobs, goes through the exact same EnqueueJob/access-check path
// intake uses.
package httpapi

import (
	"net"
	"net/http"

	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	"github.com/martini-contrib/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobSubmitForm is the manual-submission body for POST /jobs. It exists
// for operator/test use only; it is rejected unless the caller is
// loopback, and still passes through the registry's access check.
type JobSubmitForm struct {
	SubmitterID   uint32 `json:"submitter_id"`
	SubmitterName string `json:"submitter_name" binding:"required"`
	SubmitterUser string `json:"submitter_user"`
	JobID         uint32 `json:"job_id" binding:"required"`
	Arg           []byte `json:"arg"`
	Opt           []byte `json:"opt"`
}

// Server wraps a martini instance serving the diagnostic API.
type Server struct {
	reg      *registry.Registry
	log      *logx.Logger
	promReg  *prometheus.Registry
	martini  *martini.ClassicMartini
}

// New builds the Server and wires its routes. promReg may be nil, in
// which case /metrics is not mounted.
func New(reg *registry.Registry, log *logx.Logger, promReg *prometheus.Registry) *Server {
	s := &Server{reg: reg, log: log, promReg: promReg}
	s.martini = martini.Classic()
	s.martini.Use(render.Renderer(render.Options{IndentJSON: true}))
	s.routes()
	return s
}

// ListenAndServe blocks serving addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Notice("httpapi: serving %s", addr)
	return http.ListenAndServe(addr, s.martini)
}

func (s *Server) routes() {
	s.martini.Get("/status", func(r render.Render) {
		host := s.reg.Host()
		r.JSON(http.StatusOK, map[string]interface{}{
			"host":      host,
			"peers":     s.reg.PeerCount(),
			"job_queue": s.reg.JobCount(),
			"policy": map[string]registry.PolicySwitch{
				"smartmem":   s.reg.Policy(registry.PolicySmartMem),
				"smartcpu":   s.reg.Policy(registry.PolicySmartCPU),
				"smartshare": s.reg.Policy(registry.PolicySmartShare),
			},
		})
	})

	s.martini.Get("/peers", func(r render.Render) {
		r.JSON(http.StatusOK, s.reg.Peers())
	})

	s.martini.Post("/jobs", requireLoopback, binding.Bind(JobSubmitForm{}), func(form JobSubmitForm, req *http.Request, r render.Render) {
		submitter := registry.HostDescriptor{ID: form.SubmitterID, Name: form.SubmitterName, User: form.SubmitterUser}
		if !s.reg.Allowed(submitter.User, submitter.Name, submitter.Group) {
			r.JSON(http.StatusForbidden, map[string]string{"error": "submitter not in access lists"})
			return
		}
		s.reg.EnqueueJob(registry.JobEntry{
			Submitter: submitter,
			Def:       registry.JobDef{Version: 1, ID: form.JobID, ArgSize: uint32(len(form.Arg)), OptSize: uint32(len(form.Opt))},
			Arg:       form.Arg,
			Opt:       form.Opt,
		})
		r.JSON(http.StatusAccepted, map[string]string{"status": "enqueued"})
	})

	if s.promReg != nil {
		handler := promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{})
		s.martini.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			handler.ServeHTTP(w, req)
		})
	}
}

// requireLoopback rejects any request whose remote address is not
// 127.0.0.1/::1, matching spec.md's treatment of this endpoint as a
// local-operator escape hatch rather than a second intake path.
func requireLoopback(w http.ResponseWriter, req *http.Request) {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		w.WriteHeader(http.StatusForbidden)
	}
}
