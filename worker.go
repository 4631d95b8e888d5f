package parsimon

// worker.go holds both ends of remote link simulation: RemoteWorker, which the
// coordinator uses to send a job to another process, and WorkerServer, which runs
// in that process.  Each job travels on its own TCP connection: one request frame,
// one response frame.  Jobs are pure functions of their descriptor, so a job that is
// sent again after a lost response yields the same result.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

// RemoteWorker sends jobs to a WorkerServer listening on Addr
type RemoteWorker struct {
	Addr        string
	DialTimeout time.Duration
}

func (rw *RemoteWorker) Name() string {
	return "tcp/" + rw.Addr
}

func (rw *RemoteWorker) RunJob(ctx context.Context, job *Job) (*LinkResult, error) {
	dialer := net.Dialer{Timeout: rw.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", rw.Addr)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", rw.Addr, err)
	}
	defer conn.Close()

	// unblock reads and writes as soon as the job is abandoned
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := JobRequest{JobID: job.ID, ClusterID: job.ClusterID, Attempt: job.Attempt, Desc: job.Desc,
		Buckets: job.Buckets}
	if err := writeFrame(conn, &req); err != nil {
		return nil, rw.ioError(ctx, err)
	}
	var resp JobResponse
	if err := readFrame(conn, &resp); err != nil {
		return nil, rw.ioError(ctx, err)
	}

	if resp.JobID != job.ID {
		return nil, fmt.Errorf("worker %s: response for job %s, expected %s", rw.Addr, resp.JobID, job.ID)
	}
	if len(resp.Error) > 0 {
		return nil, fmt.Errorf("worker %s: %s", rw.Addr, resp.Error)
	}
	if resp.Dist == nil {
		return nil, fmt.Errorf("worker %s: response carries no distribution", rw.Addr)
	}
	res := new(LinkResult)
	if res.Dist, err = resp.Dist.Transform(); err != nil {
		return nil, fmt.Errorf("worker %s: %w", rw.Addr, err)
	}
	if len(resp.Buckets) > 0 {
		if res.Buckets, err = TransformSizeBuckets(resp.Buckets); err != nil {
			return nil, fmt.Errorf("worker %s: %w", rw.Addr, err)
		}
	}
	return res, nil
}

// ioError prefers the context's error over the one caused by closing the connection
func (rw *RemoteWorker) ioError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("worker %s: %w", rw.Addr, err)
}

// WorkerServer answers job requests by running them on a LinkSim
type WorkerServer struct {
	sim LinkSim
	log logrus.FieldLogger
	wg  sync.WaitGroup
}

// NewWorkerServer is a constructor
func NewWorkerServer(sim LinkSim, log logrus.FieldLogger) *WorkerServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WorkerServer{sim: sim, log: log.WithField("linksim", sim.Name())}
}

// Serve accepts connections on ln until ctx is done, then waits for the jobs in
// progress and returns nil
func (ws *WorkerServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	ws.log.WithField("addr", ln.Addr().String()).Info("worker listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			ws.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ws.wg.Add(1)
		go func() {
			defer ws.wg.Done()
			ws.handle(conn)
		}()
	}
}

// ListenAndServeWorker listens on the TCP address addr and serves jobs until ctx is done
func ListenAndServeWorker(ctx context.Context, addr string, sim LinkSim, log logrus.FieldLogger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return NewWorkerServer(sim, log).Serve(ctx, ln)
}

func (ws *WorkerServer) handle(conn net.Conn) {
	defer conn.Close()
	var req JobRequest
	if err := readFrame(conn, &req); err != nil {
		ws.log.WithError(err).WithField("peer", conn.RemoteAddr().String()).Warn("unreadable job request")
		return
	}
	resp := ws.runJob(&req)
	if err := writeFrame(conn, &resp); err != nil {
		ws.log.WithError(err).WithField("job", req.JobID).Warn("job response not delivered")
	}
}

func (ws *WorkerServer) runJob(req *JobRequest) (resp JobResponse) {
	resp.JobID = req.JobID
	if req.Desc == nil {
		resp.Error = "job carries no link descriptor"
		return resp
	}
	jlog := ws.log.WithFields(logrus.Fields{"job": req.JobID, "cluster": req.ClusterID,
		"link": req.Desc.Link.ID, "attempt": req.Attempt})
	jlog.WithFields(logrus.Fields{"flows": len(req.Desc.Flows),
		"offered": units.HumanSize(float64(req.Desc.OfferedBytes()))}).Debug("job received")

	defer func() {
		if r := recover(); r != nil {
			resp.Dist, resp.Buckets = nil, nil
			resp.Error = fmt.Sprintf("link simulation panicked: %v", r)
			jlog.Error(resp.Error)
		}
	}()

	began := time.Now()
	res, err := SimulateLink(ws.sim, req.Desc, req.Buckets)
	if err == nil && res.Dist == nil {
		err = errors.New("link simulation returned no distribution")
	}
	if err != nil {
		resp.Error = err.Error()
		jlog.WithError(err).Warn("job failed")
		return resp
	}
	resp.Dist = res.Dist.Desc()
	if res.Buckets != nil {
		resp.Buckets = res.Buckets.Desc()
	}
	jlog.WithField("elapsed", time.Since(began)).Debug("job done")
	return resp
}
