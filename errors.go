package parsimon

// errors.go holds the error values reported by the pipeline stages.
// Every error names the stage it came from and the entity (flow, link, cluster)
// that caused it, so a failed run can be traced back to its input.

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies a state of the estimation pipeline
type Stage int

const (
	StageRaw Stage = iota
	StageDecomposed
	StageClustered
	StageSimulated
	StageAggregated
)

var stageToStr map[Stage]string = map[Stage]string{
	StageRaw:        "raw",
	StageDecomposed: "decomposed",
	StageClustered:  "clustered",
	StageSimulated:  "simulated",
	StageAggregated: "aggregated",
}

func (s Stage) String() string {
	str, present := stageToStr[s]
	if !present {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return str
}

var (
	// ErrCancelled is returned (wrapped) when the caller cancels a run before it completes
	ErrCancelled = errors.New("run cancelled")

	ErrNoSamples     = errors.New("delay distribution needs at least one sample")
	ErrUnknownFlow   = errors.New("unknown flow")
	ErrUnknownLink   = errors.New("unknown link")
	ErrUnknownNode   = errors.New("unknown node")
	ErrNoBuckets     = errors.New("no size-bucketed delays")
	ErrEmptyGroup    = errors.New("no flow matches the selector")
	ErrBadPercentile = errors.New("percentile must lie in [0,100]")
)

// InvalidTopologyError reports a structural problem with the input network,
// e.g. a flow whose path is not contiguous.  It is never retried.
type InvalidTopologyError struct {
	Stage  Stage
	Entity string // "node", "link" or "flow"
	ID     int
	Reason string
}

func (e *InvalidTopologyError) Error() string {
	return fmt.Sprintf("invalid topology (%s): %s %d: %s", e.Stage, e.Entity, e.ID, e.Reason)
}

func invalidFlow(stage Stage, id FlowID, format string, args ...any) error {
	return &InvalidTopologyError{Stage: stage, Entity: "flow", ID: int(id), Reason: fmt.Sprintf(format, args...)}
}

func invalidLink(id LinkID, format string, args ...any) error {
	return &InvalidTopologyError{Stage: StageRaw, Entity: "link", ID: int(id), Reason: fmt.Sprintf(format, args...)}
}

func invalidNode(id NodeID, format string, args ...any) error {
	return &InvalidTopologyError{Stage: StageRaw, Entity: "node", ID: int(id), Reason: fmt.Sprintf(format, args...)}
}

// ClusteringContractError reports a clustering backend whose output is not
// a partition of the link simulation descriptors it was handed.
type ClusteringContractError struct {
	Algo         string
	ClusterIndex int    // index into the backend's output, -1 when not attributable
	LinkID       LinkID // offending link, -1 when not attributable
	Reason       string
	Err          error // backend error, when the backend itself failed
}

func (e *ClusteringContractError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "clustering contract violated by %q", e.Algo)
	if e.ClusterIndex >= 0 {
		fmt.Fprintf(&sb, ", cluster %d", e.ClusterIndex)
	}
	if e.LinkID >= 0 {
		fmt.Fprintf(&sb, ", link %d", e.LinkID)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ClusteringContractError) Unwrap() error {
	return e.Err
}

// SimulationFailedError is returned when a cluster's representative could not
// be simulated within the retry budget.  The whole run fails.
type SimulationFailedError struct {
	ClusterID ClusterID
	LinkID    LinkID // representative link
	Attempts  int
	Cause     error
}

func (e *SimulationFailedError) Error() string {
	return fmt.Sprintf("simulation of cluster %d (link %d) failed after %d attempt(s): %v",
		e.ClusterID, e.LinkID, e.Attempts, e.Cause)
}

func (e *SimulationFailedError) Unwrap() error {
	return e.Cause
}

// ReportErrs gathers the non-nil errors of a validation pass into one error,
// or returns nil if there are none
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}
