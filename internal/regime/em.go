package regime

import (
	"fmt"
	"math"
	"math/rand"
)

// hmmParams holds the learned sequence-model parameters. Covariances are
// stored as dense per-state matrices regardless of family; the family
// only constrains how the M-step updates them.
type hmmParams struct {
	States     int           `json:"states"`
	Features   int           `json:"features"`
	Covariance string        `json:"covariance"`
	Start      []float64     `json:"start"`
	Trans      [][]float64   `json:"trans"`
	Means      [][]float64   `json:"means"`
	Covars     [][][]float64 `json:"covars"`
}

// emResult carries the outcome of one Baum-Welch run.
type emResult struct {
	logLikelihood float64
	iterations    int
	converged     bool
}

// cholFactors precomputes the Cholesky factor of every state covariance.
func (p *hmmParams) cholFactors() ([][][]float64, error) {
	chols := make([][][]float64, p.States)
	for i := 0; i < p.States; i++ {
		l, err := cholesky(p.Covars[i])
		if err != nil {
			return nil, fmt.Errorf("state %d covariance: %w", i, err)
		}
		chols[i] = l
	}
	return chols, nil
}

// emissionLogProbs computes log b_i(o_t) for every time step and state.
func (p *hmmParams) emissionLogProbs(obs [][]float64) ([][]float64, error) {
	chols, err := p.cholFactors()
	if err != nil {
		return nil, err
	}
	logB := newMatrix(len(obs), p.States)
	for t, o := range obs {
		for i := 0; i < p.States; i++ {
			logB[t][i] = logGaussian(o, p.Means[i], chols[i])
		}
	}
	return logB, nil
}

// initParams seeds EM deterministically: means drawn from distinct
// observations, diagonal covariances from the global variance, and a
// persistence-biased transition matrix.
func initParams(obs [][]float64, states int, covariance string, seed int64, minCovar float64) *hmmParams {
	t := len(obs)
	d := len(obs[0])
	rng := rand.New(rand.NewSource(seed))

	p := &hmmParams{
		States:     states,
		Features:   d,
		Covariance: covariance,
		Start:      make([]float64, states),
		Trans:      newMatrix(states, states),
		Means:      newMatrix(states, d),
		Covars:     make([][][]float64, states),
	}

	for i := 0; i < states; i++ {
		p.Start[i] = 1.0 / float64(states)
		for j := 0; j < states; j++ {
			if i == j {
				p.Trans[i][j] = 0.8
			} else {
				p.Trans[i][j] = 0.2 / float64(states-1)
			}
		}
	}

	// Spread initial means over distinct observations
	perm := rng.Perm(t)
	for i := 0; i < states; i++ {
		copy(p.Means[i], obs[perm[i%t]])
	}

	// Global per-feature variance as the starting emission spread
	globalMean := make([]float64, d)
	for _, o := range obs {
		for j, v := range o {
			globalMean[j] += v
		}
	}
	for j := range globalMean {
		globalMean[j] /= float64(t)
	}
	globalVar := make([]float64, d)
	for _, o := range obs {
		for j, v := range o {
			diff := v - globalMean[j]
			globalVar[j] += diff * diff
		}
	}
	for j := range globalVar {
		globalVar[j] = globalVar[j]/float64(t) + minCovar
		if globalVar[j] < minCovar {
			globalVar[j] = minCovar
		}
	}

	for i := 0; i < states; i++ {
		cov := newMatrix(d, d)
		for j := 0; j < d; j++ {
			cov[j][j] = globalVar[j]
		}
		p.Covars[i] = cov
	}

	return p
}

// forwardScaled runs the scaled forward recursion. It returns the scaled
// alpha matrix, per-step scale factors, per-step emission shifts, and the
// sequence log-likelihood.
func forwardScaled(p *hmmParams, logB [][]float64) (alpha [][]float64, scales, shifts []float64, logLik float64, err error) {
	tLen := len(logB)
	k := p.States

	alpha = newMatrix(tLen, k)
	scales = make([]float64, tLen)
	shifts = make([]float64, tLen)

	// Shift emission probabilities per step so exponentiation never
	// underflows; the shift re-enters the likelihood additively.
	bs := newMatrix(tLen, k)
	for t := 0; t < tLen; t++ {
		m := math.Inf(-1)
		for i := 0; i < k; i++ {
			if logB[t][i] > m {
				m = logB[t][i]
			}
		}
		shifts[t] = m
		for i := 0; i < k; i++ {
			bs[t][i] = math.Exp(logB[t][i] - m)
		}
	}

	for i := 0; i < k; i++ {
		alpha[0][i] = p.Start[i] * bs[0][i]
		scales[0] += alpha[0][i]
	}
	if scales[0] <= 0 {
		return nil, nil, nil, 0, fmt.Errorf("zero forward probability at step 0")
	}
	for i := 0; i < k; i++ {
		alpha[0][i] /= scales[0]
	}

	for t := 1; t < tLen; t++ {
		for i := 0; i < k; i++ {
			sum := 0.0
			for j := 0; j < k; j++ {
				sum += alpha[t-1][j] * p.Trans[j][i]
			}
			alpha[t][i] = sum * bs[t][i]
			scales[t] += alpha[t][i]
		}
		if scales[t] <= 0 {
			return nil, nil, nil, 0, fmt.Errorf("zero forward probability at step %d", t)
		}
		for i := 0; i < k; i++ {
			alpha[t][i] /= scales[t]
		}
	}

	for t := 0; t < tLen; t++ {
		logLik += math.Log(scales[t]) + shifts[t]
	}
	return alpha, scales, shifts, logLik, nil
}

// forwardBackward returns per-step state posteriors (gamma), the summed
// pairwise transition posteriors (xiSum), and the log-likelihood.
func forwardBackward(p *hmmParams, logB [][]float64) (gamma [][]float64, xiSum [][]float64, logLik float64, err error) {
	tLen := len(logB)
	k := p.States

	alpha, scales, shifts, logLik, err := forwardScaled(p, logB)
	if err != nil {
		return nil, nil, 0, err
	}

	bs := newMatrix(tLen, k)
	for t := 0; t < tLen; t++ {
		for i := 0; i < k; i++ {
			bs[t][i] = math.Exp(logB[t][i] - shifts[t])
		}
	}

	beta := newMatrix(tLen, k)
	for i := 0; i < k; i++ {
		beta[tLen-1][i] = 1.0
	}
	for t := tLen - 2; t >= 0; t-- {
		for i := 0; i < k; i++ {
			sum := 0.0
			for j := 0; j < k; j++ {
				sum += p.Trans[i][j] * bs[t+1][j] * beta[t+1][j]
			}
			beta[t][i] = sum / scales[t+1]
		}
	}

	gamma = newMatrix(tLen, k)
	for t := 0; t < tLen; t++ {
		total := 0.0
		for i := 0; i < k; i++ {
			gamma[t][i] = alpha[t][i] * beta[t][i]
			total += gamma[t][i]
		}
		if total <= 0 {
			return nil, nil, 0, fmt.Errorf("degenerate posterior at step %d", t)
		}
		for i := 0; i < k; i++ {
			gamma[t][i] /= total
		}
	}

	xiSum = newMatrix(k, k)
	for t := 0; t < tLen-1; t++ {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				xiSum[i][j] += alpha[t][i] * p.Trans[i][j] * bs[t+1][j] * beta[t+1][j] / scales[t+1]
			}
		}
	}

	return gamma, xiSum, logLik, nil
}

// baumWelch iterates EM until the log-likelihood improves by less than tol
// or maxIter is reached. The parameters are updated in place.
func baumWelch(p *hmmParams, obs [][]float64, maxIter int, tol, minCovar float64) (emResult, error) {
	prevLL := math.Inf(-1)
	res := emResult{}

	for iter := 0; iter < maxIter; iter++ {
		logB, err := p.emissionLogProbs(obs)
		if err != nil {
			return res, err
		}
		gamma, xiSum, logLik, err := forwardBackward(p, logB)
		if err != nil {
			return res, err
		}

		res.logLikelihood = logLik
		res.iterations = iter + 1

		if iter > 0 && math.Abs(logLik-prevLL) < tol {
			res.converged = true
			return res, nil
		}
		prevLL = logLik

		p.mStep(obs, gamma, xiSum, minCovar)
	}

	return res, nil
}

// mStep re-estimates start, transition, mean, and covariance parameters
// from the posteriors, respecting the configured covariance family.
func (p *hmmParams) mStep(obs [][]float64, gamma, xiSum [][]float64, minCovar float64) {
	tLen := len(obs)
	k := p.States
	d := p.Features

	const degenerate = 1e-10

	copy(p.Start, gamma[0])

	for i := 0; i < k; i++ {
		rowSum := 0.0
		for j := 0; j < k; j++ {
			rowSum += xiSum[i][j]
		}
		if rowSum < degenerate {
			continue // state never left; keep previous row
		}
		for j := 0; j < k; j++ {
			p.Trans[i][j] = xiSum[i][j] / rowSum
		}
	}

	weights := make([]float64, k)
	for t := 0; t < tLen; t++ {
		for i := 0; i < k; i++ {
			weights[i] += gamma[t][i]
		}
	}

	for i := 0; i < k; i++ {
		if weights[i] < degenerate {
			continue // starved state; keep previous emission
		}
		mean := make([]float64, d)
		for t := 0; t < tLen; t++ {
			for j := 0; j < d; j++ {
				mean[j] += gamma[t][i] * obs[t][j]
			}
		}
		for j := 0; j < d; j++ {
			mean[j] /= weights[i]
		}
		p.Means[i] = mean
	}

	// Weighted scatter per state, then constrained per family
	scatter := make([][][]float64, k)
	for i := 0; i < k; i++ {
		scatter[i] = newMatrix(d, d)
	}
	for t := 0; t < tLen; t++ {
		for i := 0; i < k; i++ {
			g := gamma[t][i]
			if g < degenerate {
				continue
			}
			for a := 0; a < d; a++ {
				da := obs[t][a] - p.Means[i][a]
				for b := 0; b <= a; b++ {
					db := obs[t][b] - p.Means[i][b]
					scatter[i][a][b] += g * da * db
				}
			}
		}
	}
	for i := 0; i < k; i++ {
		for a := 0; a < d; a++ {
			for b := 0; b < a; b++ {
				scatter[i][b][a] = scatter[i][a][b]
			}
		}
	}

	switch p.Covariance {
	case CovFull:
		for i := 0; i < k; i++ {
			if weights[i] < degenerate {
				continue
			}
			cov := newMatrix(d, d)
			for a := 0; a < d; a++ {
				for b := 0; b < d; b++ {
					cov[a][b] = scatter[i][a][b] / weights[i]
				}
				cov[a][a] += minCovar
			}
			p.Covars[i] = cov
		}

	case CovTied:
		shared := newMatrix(d, d)
		total := 0.0
		for i := 0; i < k; i++ {
			total += weights[i]
			for a := 0; a < d; a++ {
				for b := 0; b < d; b++ {
					shared[a][b] += scatter[i][a][b]
				}
			}
		}
		if total >= degenerate {
			for a := 0; a < d; a++ {
				for b := 0; b < d; b++ {
					shared[a][b] /= total
				}
				shared[a][a] += minCovar
			}
			for i := 0; i < k; i++ {
				p.Covars[i] = copyMatrix(shared)
			}
		}

	case CovDiagonal:
		for i := 0; i < k; i++ {
			if weights[i] < degenerate {
				continue
			}
			cov := newMatrix(d, d)
			for a := 0; a < d; a++ {
				v := scatter[i][a][a]/weights[i] + minCovar
				if v < minCovar {
					v = minCovar
				}
				cov[a][a] = v
			}
			p.Covars[i] = cov
		}

	case CovSpherical:
		for i := 0; i < k; i++ {
			if weights[i] < degenerate {
				continue
			}
			avg := 0.0
			for a := 0; a < d; a++ {
				avg += scatter[i][a][a] / weights[i]
			}
			avg = avg/float64(d) + minCovar
			if avg < minCovar {
				avg = minCovar
			}
			cov := newMatrix(d, d)
			for a := 0; a < d; a++ {
				cov[a][a] = avg
			}
			p.Covars[i] = cov
		}
	}
}

// statePosterior returns the posterior over hidden states at the final
// time step of obs, conditioned on the whole passed sequence.
func statePosterior(p *hmmParams, obs [][]float64) ([]float64, error) {
	logB, err := p.emissionLogProbs(obs)
	if err != nil {
		return nil, err
	}
	alpha, _, _, _, err := forwardScaled(p, logB)
	if err != nil {
		return nil, err
	}
	// Scaled alpha rows are already normalized; the last row is the
	// posterior of the final state given the full sequence.
	return append([]float64(nil), alpha[len(obs)-1]...), nil
}

// viterbi recovers the single most likely hidden-state sequence in log
// space.
func viterbi(p *hmmParams, obs [][]float64) ([]int, error) {
	logB, err := p.emissionLogProbs(obs)
	if err != nil {
		return nil, err
	}

	tLen := len(obs)
	k := p.States

	logTrans := newMatrix(k, k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			logTrans[i][j] = safeLog(p.Trans[i][j])
		}
	}

	delta := newMatrix(tLen, k)
	backptr := make([][]int, tLen)
	for t := range backptr {
		backptr[t] = make([]int, k)
	}

	for i := 0; i < k; i++ {
		delta[0][i] = safeLog(p.Start[i]) + logB[0][i]
	}

	for t := 1; t < tLen; t++ {
		for j := 0; j < k; j++ {
			best := math.Inf(-1)
			arg := 0
			for i := 0; i < k; i++ {
				v := delta[t-1][i] + logTrans[i][j]
				if v > best {
					best = v
					arg = i
				}
			}
			delta[t][j] = best + logB[t][j]
			backptr[t][j] = arg
		}
	}

	path := make([]int, tLen)
	best := math.Inf(-1)
	for i := 0; i < k; i++ {
		if delta[tLen-1][i] > best {
			best = delta[tLen-1][i]
			path[tLen-1] = i
		}
	}
	for t := tLen - 2; t >= 0; t-- {
		path[t] = backptr[t+1][path[t+1]]
	}
	return path, nil
}

func safeLog(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return math.Log(v)
}
