package parsimon

// flow-sim.go holds an event-driven link simulator.  The flows of a link
// descriptor arrive at their start times and share the link's transmission
// capacity through a linkScheduler: first-come first-serve by default, or
// round-robin in quanta of Quantum bytes.  A flow's delay is the time from its
// arrival until its last byte is transmitted, plus the propagation delay.
//
// vrtime rounds every offset to a whole tick, and a tick is a microsecond of
// its seconds.  The event manager is handed microseconds in place of seconds,
// which makes one tick a picosecond of link time.

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// FlowQueueSim simulates a link as a queue served by Lanes parallel transmitters
type FlowQueueSim struct {
	Lanes   int   // number of flows transmitted concurrently, each at full link rate
	Quantum Bytes // round-robin quantum, 0 for first-come first-serve
}

func (fqs *FlowQueueSim) Name() string {
	if fqs.Quantum > 0 {
		return "rr"
	}
	return "fifo"
}

// flowQueueRun is the state of one simulation run
type flowQueueRun struct {
	desc      *LinkSimDesc
	sched     *linkScheduler
	completed []float64 // completion time (ns) by flow index, NaN until done
	pending   int
}

func (fqs *FlowQueueSim) Simulate(desc *LinkSimDesc) (*DelayDist, error) {
	if len(desc.Flows) == 0 {
		return ConstDist(float64(desc.Link.Delay)), nil
	}
	samples, err := fqs.FlowDelays(desc)
	if err != nil {
		return nil, err
	}
	return NewDelayDist(samples)
}

// FlowDelays runs the simulation and returns the delay of every flow
func (fqs *FlowQueueSim) FlowDelays(desc *LinkSimDesc) ([]float64, error) {
	prop := float64(desc.Link.Delay)

	run := &flowQueueRun{desc: desc, completed: make([]float64, len(desc.Flows)), pending: len(desc.Flows)}
	for idx := range run.completed {
		run.completed[idx] = math.NaN()
	}
	run.sched = createLinkScheduler(fqs.Lanes, run.flowDone)

	// the quantum's service time is the time-slice of every task
	ts := 0.0
	if fqs.Quantum > 0 {
		ts = desc.Link.TxTime(fqs.Quantum) * simUnit
	}

	evtMgr := evtm.New()
	horizon := 0.0
	for idx, flow := range desc.Flows {
		task := &txTask{flow: idx, req: desc.Link.TxTime(wireBytes(flow.Size)) * simUnit, ts: ts}
		arrival := float64(flow.Start) * simUnit
		evtMgr.Schedule(run, task, flowArrival, vrtime.SecondsToTime(arrival))

		// the link is work conserving, so everything is done by the last arrival
		// plus the total work
		horizon = math.Max(horizon, arrival) + task.req
	}
	evtMgr.Run(horizon + 1.0)

	if run.pending > 0 {
		return nil, fmt.Errorf("link %d: %d of %d flows unfinished at the simulation horizon",
			desc.Link.ID, run.pending, len(desc.Flows))
	}

	samples := make([]float64, len(desc.Flows))
	for idx, flow := range desc.Flows {
		delay := roundFloat(run.completed[idx]-float64(flow.Start), rdigits)
		samples[idx] = math.Max(delay, 0.0) + prop
	}
	return samples, nil
}

// flowArrival hands a flow's transmission work to the scheduler
func flowArrival(evtMgr *evtm.EventManager, context any, data any) any {
	run := context.(*flowQueueRun)
	run.sched.schedule(evtMgr, data.(*txTask))
	return nil
}

func (run *flowQueueRun) flowDone(evtMgr *evtm.EventManager, task *txTask) {
	run.completed[task.flow] = evtMgr.CurrentSeconds() / simUnit
	run.pending -= 1
}

// simUnit converts nanoseconds to event manager time
const simUnit = 1e-3

var rdigits uint = 3

// round computed simulation time to avoid non-sensical comparisons
// induced by rounding error
func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
