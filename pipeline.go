package parsimon

// pipeline.go drives a network through the stages of an estimate:
//
//	Network -> DecomposedNetwork -> ClusteredNetwork -> SimulatedNetwork -> DelayNetwork
//
// Each stage is its own type and only offers the operation leading to the next,
// so stages cannot be skipped or run out of order.

import (
	"context"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

type runOptions struct {
	algo    ClusteringAlgo
	sim     LinkSim
	workers []Worker
	log     logrus.FieldLogger
	trace   *TraceManager
	metrics *DispatchMetrics
}

// RunOption overrides a backend or ambient service chosen by the Config
type RunOption func(*runOptions)

func WithClustering(algo ClusteringAlgo) RunOption {
	return func(ro *runOptions) { ro.algo = algo }
}

// WithLinkSim sets the backend used by in-process workers
func WithLinkSim(sim LinkSim) RunOption {
	return func(ro *runOptions) { ro.sim = sim }
}

// WithWorkers replaces the workers the Config would create
func WithWorkers(workers ...Worker) RunOption {
	return func(ro *runOptions) { ro.workers = workers }
}

func WithLogger(log logrus.FieldLogger) RunOption {
	return func(ro *runOptions) { ro.log = log }
}

func WithTraceManager(tm *TraceManager) RunOption {
	return func(ro *runOptions) { ro.trace = tm }
}

func WithMetrics(dm *DispatchMetrics) RunOption {
	return func(ro *runOptions) { ro.metrics = dm }
}

// resolve fills in, from the configuration, whatever the options left open
func (ro *runOptions) resolve(cfg *Config) error {
	var err error
	if ro.log == nil {
		ro.log = cfg.Logger().WithField("experiment", cfg.Name)
	}
	if ro.algo == nil {
		if ro.algo, err = NewClusteringAlgo(cfg.Clustering); err != nil {
			return err
		}
	}
	if ro.trace == nil {
		ro.trace = CreateTraceManager(cfg.Name, cfg.Trace.InUse)
	}
	if len(ro.workers) > 0 {
		return nil
	}
	if len(cfg.Dispatch.Workers) > 0 {
		for _, addr := range cfg.Dispatch.Workers {
			ro.workers = append(ro.workers, &RemoteWorker{Addr: addr, DialTimeout: seconds(cfg.Dispatch.DialTimeout)})
		}
		return nil
	}
	if ro.sim == nil {
		if ro.sim, err = NewLinkSim(cfg.LinkSim); err != nil {
			return err
		}
	}
	ro.workers = []Worker{&LocalWorker{Sim: ro.sim}}
	return nil
}

// Run estimates the flow completion-time distributions of net.  A nil cfg means DefaultConfig.
func Run(ctx context.Context, net *Network, cfg *Config, opts ...RunOption) (*DelayNetwork, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ro := new(runOptions)
	for _, opt := range opts {
		opt(ro)
	}
	if err := ro.resolve(cfg); err != nil {
		return nil, err
	}
	log := ro.log
	began := time.Now()

	dn, err := Decompose(net)
	if err != nil {
		return nil, err
	}
	var offered Bytes
	for _, desc := range dn.Descs() {
		offered += desc.OfferedBytes()
	}
	ro.trace.traceStage(StageDecomposed, "")
	log.WithFields(logrus.Fields{"links": len(dn.Descs()), "flows": len(net.Flows()),
		"offered": units.HumanSize(float64(offered))}).Info("network decomposed")

	cn, err := dn.Cluster(ro.algo)
	if err != nil {
		return nil, err
	}
	ro.trace.traceStage(StageClustered, ro.algo.Name())
	log.WithFields(logrus.Fields{"algo": ro.algo.Name(), "clusters": len(cn.Clusters())}).Info("links clustered")

	coord := NewCoordinator(cfg.Dispatch, ro.workers, WithCoordinatorLogger(log),
		WithCoordinatorTrace(ro.trace), WithCoordinatorMetrics(ro.metrics))
	sn, err := coord.Simulate(ctx, cn)
	if err != nil {
		ro.writeTrace(cfg, log)
		return nil, err
	}
	ro.trace.traceStage(StageSimulated, sn.RunID())

	delayNet, err := sn.Aggregate(ctx, cfg.Aggregation)
	if err != nil {
		ro.writeTrace(cfg, log)
		return nil, err
	}
	ro.trace.traceStage(StageAggregated, "")
	log.WithFields(logrus.Fields{"run": sn.RunID(), "elapsed": time.Since(began)}).Info("delay network ready")

	ro.writeTrace(cfg, log)
	return delayNet, nil
}

func (ro *runOptions) writeTrace(cfg *Config, log logrus.FieldLogger) {
	if !ro.trace.Active() || len(cfg.Trace.File) == 0 {
		return
	}
	if err := ro.trace.WriteToFile(cfg.Trace.File); err != nil {
		log.WithError(err).Warn("trace not written")
	}
}

// RunFromFiles reads a network description and, if configFile is not empty, a
// configuration, then runs the estimate.  The serialization of each file follows its extension.
func RunFromFiles(ctx context.Context, networkFile, configFile string, opts ...RunOption) (*DelayNetwork, error) {
	cfg := DefaultConfig()
	if len(configFile) > 0 {
		var err error
		cfg, err = ReadConfig(configFile, isYAMLFile(configFile), nil)
		if err != nil {
			return nil, err
		}
	}
	nd, err := ReadNetworkDesc(networkFile, isYAMLFile(networkFile), nil)
	if err != nil {
		return nil, err
	}
	net, err := nd.Transform()
	if err != nil {
		return nil, err
	}
	return Run(ctx, net, cfg, opts...)
}
