package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	log "github.com/golang/glog"

	"github.com/google/vsched/entity"
	"github.com/google/vsched/group"
	"github.com/google/vsched/scheduler"
	"github.com/google/vsched/topo"
	"github.com/google/vsched/vserr"
)

type apiHandler struct {
	sched *scheduler.Scheduler
	cache *introspectionCache
}

// usageResponse is the wire form of scheduler.UsageMicros.
type usageResponse struct {
	VSMPID     uint32 `json:"vsmpId"`
	RunMicros  int64  `json:"runMicros"`
	WaitMicros int64  `json:"waitMicros"`
}

// pcpuResponse is the wire form of scheduler.PCPUState.
type pcpuResponse struct {
	ID          topo.PCPUID `json:"id"`
	Idle        bool        `json:"idle"`
	RunningVSMP uint32      `json:"runningVsmp,omitempty"`
	MainLen     int         `json:"mainLen"`
	ExtraLen    int         `json:"extraLen"`
	LimboLen    int         `json:"limboLen"`
}

// allocRequest is the wire form of a group.Alloc admin change.
type allocRequest struct {
	Min    int64 `json:"min"`
	Max    int64 `json:"max"`
	Shares int64 `json:"shares"`
	Units  int   `json:"units"`
}

func (r allocRequest) toAlloc() group.Alloc {
	return group.Alloc{Min: r.Min, Max: r.Max, Shares: r.Shares, Units: group.Units(r.Units)}
}

// affinityRequest is the wire form of an entity.AffinityMask change.
type affinityRequest struct {
	Mask uint64 `json:"mask"`
}

// groupResponse is one node in the GET /api/groups enumeration, the
// supplemented form of the original source's CpuSched_ProcGroupsRead.
type groupResponse struct {
	ID       uint64          `json:"id"`
	Name     string          `json:"name"`
	ParentID uint64          `json:"parentId,omitempty"`
	IsLeaf   bool            `json:"isLeaf"`
	Min      int64           `json:"min"`
	Max      int64           `json:"max"`
	Shares   int64           `json:"shares"`
	Vtime    int64           `json:"vtime"`
	Stride   int64           `json:"stride"`
	Children []groupResponse `json:"children,omitempty"`
}

func (h *apiHandler) handleVSMPUsage(w http.ResponseWriter, req *http.Request) {
	id, ok := parseUint32(w, req, "id")
	if !ok {
		return
	}
	key := fmt.Sprintf("usage:%d", id)
	v, err := h.cache.getOrCompute(key, func() (interface{}, error) {
		run, wait, err := h.sched.UsageMicros(id)
		return usageResponse{VSMPID: id, RunMicros: run, WaitMicros: wait}, err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, v)
}

func (h *apiHandler) handlePCPUSnapshot(w http.ResponseWriter, req *http.Request) {
	idRaw, ok := mux.Vars(req)["id"]
	if !ok {
		http.Error(w, "missing pcpu id", http.StatusBadRequest)
		return
	}
	n, err := strconv.Atoi(idRaw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid pcpu id %q: %v", idRaw, err), http.StatusBadRequest)
		return
	}
	pcpu := topo.PCPUID(n)
	key := fmt.Sprintf("pcpu:%d", pcpu)
	v, err := h.cache.getOrCompute(key, func() (interface{}, error) {
		st, err := h.sched.PCPUSnapshot(pcpu)
		return pcpuResponse{
			ID:          st.ID,
			Idle:        st.Idle,
			RunningVSMP: st.RunningVSMP,
			MainLen:     st.MainLen,
			ExtraLen:    st.ExtraLen,
			LimboLen:    st.LimboLen,
		}, err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, v)
}

func (h *apiHandler) handleSetGroupAlloc(w http.ResponseWriter, req *http.Request) {
	n, ok := h.lookupGroup(w, req)
	if !ok {
		return
	}
	var ar allocRequest
	if err := readJSONBody(req, &ar); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.sched.SetGroupAlloc(n, ar.toAlloc()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleSetVSMPAlloc(w http.ResponseWriter, req *http.Request) {
	id, ok := parseUint32(w, req, "id")
	if !ok {
		return
	}
	var ar allocRequest
	if err := readJSONBody(req, &ar); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.sched.SetVSMPAlloc(id, ar.toAlloc()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleSetAffinity(w http.ResponseWriter, req *http.Request) {
	id, ok := parseUint32(w, req, "id")
	if !ok {
		return
	}
	v := h.sched.VSMP(id)
	if v == nil {
		writeError(w, vserr.New(vserr.NotFound, "vsmp %d not registered", id))
		return
	}
	var ar affinityRequest
	if err := readJSONBody(req, &ar); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, vc := range v.VCPUs {
		h.sched.SetAffinity(vc, entity.AffinityMask(ar.Mask))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleListGroups(w http.ResponseWriter, req *http.Request) {
	root := h.sched.Tree().Root()
	writeJSON(w, buildGroupResponse(root))
}

func buildGroupResponse(n *group.Node) groupResponse {
	vt, _, stride := n.VtimeSnapshot()
	gr := groupResponse{
		ID:     uint64(n.ID),
		Name:   n.Name,
		IsLeaf: n.IsLeaf,
		Min:    n.Alloc.Min,
		Max:    n.Alloc.Max,
		Shares: n.Alloc.Shares,
		Vtime:  vt,
		Stride: stride,
	}
	if n.Parent != nil {
		gr.ParentID = uint64(n.Parent.ID)
	}
	for _, m := range n.Members {
		gr.Children = append(gr.Children, buildGroupResponse(m))
	}
	return gr
}

func (h *apiHandler) lookupGroup(w http.ResponseWriter, req *http.Request) (*group.Node, bool) {
	idRaw, ok := mux.Vars(req)["id"]
	if !ok {
		http.Error(w, "missing group id", http.StatusBadRequest)
		return nil, false
	}
	id, err := strconv.ParseUint(idRaw, 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid group id %q: %v", idRaw, err), http.StatusBadRequest)
		return nil, false
	}
	n := h.sched.Tree().Lookup(group.ID(id))
	if n == nil {
		writeError(w, vserr.New(vserr.NotFound, "group %d not registered", id))
		return nil, false
	}
	return n, true
}

func parseUint32(w http.ResponseWriter, req *http.Request, name string) (uint32, bool) {
	raw, ok := mux.Vars(req)[name]
	if !ok {
		http.Error(w, fmt.Sprintf("missing %s", name), http.StatusBadRequest)
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid %s %q: %v", name, raw, err), http.StatusBadRequest)
		return 0, false
	}
	return uint32(n), true
}

func readJSONBody(req *http.Request, v interface{}) error {
	defer req.Body.Close()
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeError translates err's vserr.Kind to the HTTP status spec.md's
// failure-behavior section assigns it, logging Fatal-kind errors before
// responding since those indicate a violated invariant rather than a
// routine rejected request.
func writeError(w http.ResponseWriter, err error) {
	kind := vserr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case vserr.BadParam:
		status = http.StatusBadRequest
	case vserr.AdmissionDenied:
		status = http.StatusForbidden
	case vserr.NotFound:
		status = http.StatusNotFound
	case vserr.Busy:
		status = http.StatusServiceUnavailable
	case vserr.Fatal:
		log.Errorf("fatal scheduler error: %v", err)
		status = http.StatusInternalServerError
	case vserr.NoResources:
		status = http.StatusForbidden
	case vserr.DeathPending:
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
