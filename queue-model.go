package parsimon

// queue-model.go holds analytic link models.  Instead of simulating the
// flows on a link, the link is treated as an M/M/1 or M/D/1 queue whose arrival
// rate and mean service time are estimated from the descriptor.  A flow's delay
// is its own transmission time plus a queueing wait drawn from the model.

import (
	"fmt"
	"math"
)

// QueueModelSim estimates link delays from queueing formulas
type QueueModelSim struct {
	Model  string // "mm1" or "md1"
	Points int    // atoms used to discretize the waiting time
}

func (qms *QueueModelSim) Name() string {
	return qms.Model
}

func (qms *QueueModelSim) Simulate(desc *LinkSimDesc) (*DelayDist, error) {
	prop := float64(desc.Link.Delay)
	if len(desc.Flows) == 0 {
		return ConstDist(prop), nil
	}

	txTimes := make([]float64, 0, len(desc.Flows))
	for _, flow := range desc.Flows {
		txTimes = append(txTimes, desc.Link.TxTime(wireBytes(flow.Size))+prop)
	}
	txDist, err := NewDelayDist(txTimes)
	if err != nil {
		return nil, err
	}

	duration := float64(desc.Duration())
	if duration == 0 {
		return txDist, nil
	}

	// service time excludes propagation
	meanService := txDist.Mean() - prop
	lambda := float64(len(desc.Flows)-1) / duration
	rho := lambda * meanService

	var meanWait float64
	switch qms.Model {
	case "mm1":
		rho = math.Min(rho, 0.95)
		meanWait = EstMM1Latency(rho, meanService) - meanService
	case "md1":
		rho = math.Min(rho, 0.99)
		meanWait = EstMD1Latency(rho, meanService) - meanService
	default:
		return nil, fmt.Errorf("unknown queueing model %q", qms.Model)
	}
	if rho <= 0 || meanWait <= 0 {
		return txDist, nil
	}

	points := qms.Points
	if points <= 0 {
		points = 100
	}
	return txDist.Convolve(waitDist(rho, meanWait, points), DefaultMaxAtoms), nil
}

// waitDist discretizes a waiting time that is zero with probability 1-rho and
// otherwise exponential, with overall mean meanWait
func waitDist(rho, meanWait float64, points int) *DelayDist {
	rate := rho / meanWait
	values := make([]float64, 0, points+1)
	weights := make([]float64, 0, points+1)
	values = append(values, 0.0)
	weights = append(weights, 1.0-rho)
	for idx := 0; idx < points; idx++ {
		u01 := (float64(idx) + 0.5) / float64(points)
		values = append(values, expRV(u01, rate))
		weights = append(weights, rho/float64(points))
	}
	return normalizeAtoms(values, weights)
}

// EstMM1Latency is the mean time in system of an M/M/1 queue with
// utilization rho and mean service time meanService, i.e. 1/(mu - lambda)
func EstMM1Latency(rho, meanService float64) float64 {
	if math.Abs(1.0-rho) < 1e-3 {
		// force rho to be 95%
		rho = 0.95
	}
	return meanService / (1.0 - rho)
}

// EstMD1Latency is the mean time in system of an M/D/1 queue,
// 1/mu + rho/(2*mu*(1-rho))
func EstMD1Latency(rho, meanService float64) float64 {
	if math.Abs(1.0-rho) < 1e-3 {
		// if rho too large, force it to be 99%
		rho = 0.99
	}
	return meanService + rho*meanService/(2.0*(1.0-rho))
}
