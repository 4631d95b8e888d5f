package parsimon

// scheduler.go holds the structures that share a link's transmission capacity
// among the flows waiting to cross it.
//
// When a task is scheduled the caller gives how much service it needs (in event manager
// seconds of transmission) and a time-slice.  If the time-slice is zero or at least the
// service, the task is served all at once.  Otherwise the task gets one time-slice of
// service and the residual task goes to the back of the waiting queue, which makes
// the link round-robin among its flows.  Lanes are allocated first-come first-serve.

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// txTask is the residual transmission work of one flow
type txTask struct {
	flow int     // index of the flow in its descriptor
	req  float64 // residual service, event manager seconds
	ts   float64 // timeslice, event manager seconds
}

// sliceEnd is carried by the event marking the end of a task's time-slice
type sliceEnd struct {
	task     *txTask
	finished bool
}

// linkScheduler serves tasks on a fixed number of lanes
type linkScheduler struct {
	lanes     int
	inservice int
	waiting   []*txTask

	// called at the simulation time a task's last slice is served
	complete func(evtMgr *evtm.EventManager, task *txTask)
}

// createLinkScheduler is a constructor
func createLinkScheduler(lanes int, complete func(*evtm.EventManager, *txTask)) *linkScheduler {
	if lanes < 1 {
		lanes = 1
	}
	return &linkScheduler{lanes: lanes, waiting: []*txTask{}, complete: complete}
}

// schedule puts a task either in service or in the waiting queue.  The return
// is true if the task went straight into service.
func (ls *linkScheduler) schedule(evtMgr *evtm.EventManager, task *txTask) bool {
	if ls.lanes <= ls.inservice {
		ls.waiting = append(ls.waiting, task)
		return false
	}
	ls.serve(evtMgr, task)
	return true
}

// serve gives a task one time-slice of service on a free lane
func (ls *linkScheduler) serve(evtMgr *evtm.EventManager, task *txTask) {
	execute := task.ts
	finished := false
	if task.ts <= 0 || task.req <= task.ts {
		execute = task.req
		finished = true
	}
	task.req -= execute
	if task.req < 0 {
		task.req = 0
	}
	ls.inservice += 1

	// schedule event handler for when this timeslice completes
	evtMgr.Schedule(ls, &sliceEnd{task: task, finished: finished}, timeSliceComplete, vrtime.SecondsToTime(execute))
}

// timeSliceComplete is called when the time-slice allocated to a task has completed
func timeSliceComplete(evtMgr *evtm.EventManager, context any, data any) any {
	ls := context.(*linkScheduler)
	se := data.(*sliceEnd)
	ls.inservice -= 1

	if se.finished {
		ls.complete(evtMgr, se.task)
	} else {
		// residual work waits behind everything already queued
		ls.waiting = append(ls.waiting, se.task)
	}

	// put waiting tasks (FCFS) into the lanes that are free now
	for ls.inservice < ls.lanes && len(ls.waiting) > 0 {
		task := ls.waiting[0]
		ls.waiting = ls.waiting[1:]
		ls.serve(evtMgr, task)
	}
	return nil
}
