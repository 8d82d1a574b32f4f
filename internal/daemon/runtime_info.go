package daemon

import (
	"sync/atomic"
	"time"
)

type bindings struct {
	listen  string
	socket  string
	started time.Time
}

// RuntimeInfo records where a running daemon is bound. It is written once
// by Run and read by /status and tests.
type RuntimeInfo struct {
	current atomic.Pointer[bindings]
}

// RuntimeSnapshot is the /status document.
type RuntimeSnapshot struct {
	Version   string    `json:"version"`
	Listen    string    `json:"listen"`
	Socket    string    `json:"socket"`
	StartedAt time.Time `json:"startedAt"`
	Uptime    string    `json:"uptime"`
	Peers     int       `json:"peers"`
	Languages []string  `json:"languages,omitempty"`
}

func (r *RuntimeInfo) bound(listen, socket string, at time.Time) {
	r.current.Store(&bindings{listen: listen, socket: socket, started: at})
}

func (r *RuntimeInfo) load() bindings {
	if b := r.current.Load(); b != nil {
		return *b
	}
	return bindings{}
}

// Listen is the websocket address, or "" until Run has bound it.
func (r *RuntimeInfo) Listen() string { return r.load().listen }

func (r *RuntimeInfo) Socket() string { return r.load().socket }

func (r *RuntimeInfo) snapshot(now time.Time) RuntimeSnapshot {
	b := r.load()
	snap := RuntimeSnapshot{Listen: b.listen, Socket: b.socket, StartedAt: b.started}
	if !b.started.IsZero() {
		snap.Uptime = now.Sub(b.started).Truncate(time.Second).String()
	}
	return snap
}
