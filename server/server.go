//
// Copyright 2019 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS-IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
//
// Package main runs an HTTP front end over a scheduler.Scheduler, exposing
// its introspection and control surface as JSON routes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	log "github.com/golang/glog"

	"github.com/google/vsched/config"
	"github.com/google/vsched/scheduler"
	"github.com/google/vsched/timerif"
	"github.com/google/vsched/topo"
)

const tickInterval = time.Millisecond

var (
	port         = flag.Int("port", 7402, "The scheduler HTTP port.")
	numPCPUs     = flag.Int("num_pcpus", 8, "Number of logical PCPUs to simulate the machine with.")
	htPerPackage = flag.Int("ht_per_package", 2, "Logical PCPUs sharing one physical package.")
	cacheSize    = flag.Int("cache_size", 256, "Maximum number of cached introspection results to keep.")
	cacheTTL     = flag.Duration("cache_ttl", 20*time.Millisecond, "How long a cached introspection result stays fresh.")
)

var handle = func(r *mux.Router, path string, handler http.HandlerFunc) *mux.Route {
	return r.HandleFunc(path, handler)
}

func registerRoutes(r *mux.Router, h *apiHandler) {
	handle(r, "/api/vsmp/{id}/usage", h.handleVSMPUsage).Methods(http.MethodGet)
	handle(r, "/api/pcpu/{id}/snapshot", h.handlePCPUSnapshot).Methods(http.MethodGet)
	handle(r, "/api/groups", h.handleListGroups).Methods(http.MethodGet)
	handle(r, "/api/group/{id}/alloc", h.handleSetGroupAlloc).Methods(http.MethodPost)
	handle(r, "/api/vsmp/{id}/alloc", h.handleSetVSMPAlloc).Methods(http.MethodPost)
	handle(r, "/api/vsmp/{id}/affinity", h.handleSetAffinity).Methods(http.MethodPost)
}

var startServer = func(r *mux.Router) {
	http.Handle("/", r)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *port), nil); err != nil {
		log.Fatal(err)
	}
}

func runServer(ctx context.Context) {
	tp := topo.NewStatic(*numPCPUs, *htPerPackage)
	// There is no real hardware cycle-counter/IPI backend in this tree --
	// vsched is a scheduling-policy core, not a hypervisor binary -- so the
	// server drives the same FakeTimer the sim harness uses, paced off the
	// wall clock by driveForever instead of a test's manual Advance calls.
	timer := timerif.NewFakeTimer(int64(time.Second / tickInterval) * 1000)
	ipi := &timerif.FakeIPI{}
	s := scheduler.New(tp, timer, ipi, config.Default())

	cache, err := newIntrospectionCache(*cacheSize, *cacheTTL)
	if err != nil {
		log.Exit(err)
	}

	go driveForever(ctx, s, timer, tp.NumPCPUs())

	h := &apiHandler{sched: s, cache: cache}
	r := mux.NewRouter()
	registerRoutes(r, h)
	log.Infof("serving %d pcpus across %d cells on :%d", *numPCPUs, len(s.Cells()), *port)
	startServer(r)
}

func main() {
	flag.Parse()
	runServer(context.Background())
}
