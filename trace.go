package parsimon

import (
	"sync"
	"time"
)

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceRecord notes one step of a run: a stage transition, or the dispatch,
// retry, completion or failure of a cluster's simulation job
type TraceRecord struct {
	Time      float64 `json:"time" yaml:"time"` // seconds since the trace started
	Stage     string  `json:"stage" yaml:"stage"`
	Op        string  `json:"op" yaml:"op"`
	ClusterID int     `json:"cluster" yaml:"cluster"`
	LinkID    int     `json:"link" yaml:"link"`
	Worker    string  `json:"worker,omitempty" yaml:"worker,omitempty"`
	Attempt   int     `json:"attempt,omitempty" yaml:"attempt,omitempty"`
	Detail    string  `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// pipelineTrace is the key under which records not tied to a cluster are kept
const pipelineTrace = -1

// TraceManager gathers information about a run.  It is safe for use by
// the dispatch goroutines.
type TraceManager struct {
	// run uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// identifier of the run being traced
	RunID string `json:"runid" yaml:"runid"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// trace records, by cluster id
	Traces map[int][]TraceRecord `json:"traces" yaml:"traces"`

	mu    sync.Mutex
	start time.Time
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceRecord)
	tm.start = time.Now()
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace time-stamps a record and stores it under its cluster id
func (tm *TraceManager) AddTrace(rec TraceRecord) {
	if !tm.Active() {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	rec.Time = time.Since(tm.start).Seconds()
	tm.Traces[rec.ClusterID] = append(tm.Traces[rec.ClusterID], rec)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.Active() {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
}

// Records returns a copy of the records kept for a cluster
func (tm *TraceManager) Records(clusterID int) []TraceRecord {
	if !tm.Active() {
		return nil
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return append([]TraceRecord(nil), tm.Traces[clusterID]...)
}

// WriteToFile stores the TraceManager struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return writeDescFile(filename, tm)
}

// traceStage records a pipeline stage transition
func (tm *TraceManager) traceStage(stage Stage, detail string) {
	tm.AddTrace(TraceRecord{Stage: stage.String(), Op: "enter", ClusterID: pipelineTrace, LinkID: -1, Detail: detail})
}
