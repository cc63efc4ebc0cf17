// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/gorse-io/fmeval/base/log"
	"github.com/gorse-io/fmeval/common/libfm"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// FM is the in-process factorization machine. The prediction is given by
//
//	\hat y(x) = w_0 + \sum^n_{i=1} w_i x_i + \sum^n_{i=1} \sum^n_{j=i+1} <v_i, v_j>x_i x_j
//
// Hyper-parameters:
//
//	NEpochs    - The number of iteration of the SGD procedure. Default is 100.
//	Lr         - The learning rate of SGD. Default is 0.01.
//	Reg        - The regularization parameter of the cost function. Default is 0.02.
//	InitStdDev - The standard deviation of initial latent factors. Default is 0.1.
//	Seed       - The seed of the random generator.
type FM struct {
	NEpochs    int
	Lr         float64
	Reg        float64
	InitStdDev float64
	Seed       int64
}

// NewFM creates a factorization machine with default hyper-parameters.
func NewFM() *FM {
	return &FM{
		NEpochs:    100,
		Lr:         0.01,
		Reg:        0.02,
		InitStdDev: 0.1,
	}
}

// Score fits the factorization machine on train lines and predicts test lines.
func (fm *FM) Score(ctx context.Context, train, test []string, nFactors int) (scores []float64, err error) {
	start := time.Now()
	defer func() { observe(backendFM, start, err) }()
	if err = checkFactors(nFactors); err != nil {
		return nil, err
	}
	trainSet, err := libfm.DecodeAll(train)
	if err != nil {
		return nil, &EngineIOError{Message: err.Error()}
	}
	testSet, err := libfm.DecodeAll(test)
	if err != nil {
		return nil, &EngineIOError{Message: err.Error()}
	}
	if len(trainSet) == 0 {
		return nil, &EngineExecutionError{Message: "empty training set"}
	}

	model := newFactorization(fm, nFactors, featureCount(trainSet, testSet))
	if err = model.fit(ctx, trainSet); err != nil {
		return nil, err
	}
	scores = make([]float64, len(testSet))
	for i, inst := range testSet {
		scores[i] = model.clamp(model.predict(features(inst)))
	}
	return scores, nil
}

type factorization struct {
	*FM
	nFactors   int
	globalBias float64     // w_0
	bias       []float64   // w_i
	factors    [][]float64 // v_i
	minTarget  float64
	maxTarget  float64
}

func newFactorization(fm *FM, nFactors, nFeatures int) *factorization {
	rng := rand.New(rand.NewSource(fm.Seed))
	factors := make([][]float64, nFeatures)
	for i := range factors {
		factors[i] = make([]float64, nFactors)
		for j := range factors[i] {
			factors[i][j] = rng.NormFloat64() * fm.InitStdDev
		}
	}
	return &factorization{
		FM:       fm,
		nFactors: nFactors,
		bias:     make([]float64, nFeatures),
		factors:  factors,
	}
}

func featureCount(sets ...[]libfm.Instance) int {
	var n int32
	for _, set := range sets {
		for _, inst := range set {
			for _, index := range features(inst) {
				n = max(n, index+1)
			}
		}
	}
	return int(n)
}

// features returns the active features of an instance. Every feature has value 1.
func features(inst libfm.Instance) []int32 {
	if inst.HasCategory {
		return []int32{inst.UserId, inst.ItemId, inst.Category}
	}
	return []int32{inst.UserId, inst.ItemId}
}

func (m *factorization) predict(vector []int32) float64 {
	predict := m.globalBias
	for _, index := range vector {
		predict += m.bias[index]
	}
	for i := 0; i < len(vector); i++ {
		for j := i + 1; j < len(vector); j++ {
			predict += floats.Dot(m.factors[vector[i]], m.factors[vector[j]])
		}
	}
	return predict
}

func (m *factorization) clamp(prediction float64) float64 {
	return math.Max(m.minTarget, math.Min(m.maxTarget, prediction))
}

func (m *factorization) fit(ctx context.Context, trainSet []libfm.Instance) error {
	targets := make([]float64, len(trainSet))
	for i, inst := range trainSet {
		targets[i] = float64(inst.Rating)
	}
	m.minTarget, m.maxTarget = floats.Min(targets), floats.Max(targets)
	m.globalBias = floats.Sum(targets) / float64(len(targets))

	// Create buffers
	temp := make([]float64, m.nFactors)
	gradFactor := make([]float64, m.nFactors)
	for epoch := 0; epoch < m.NEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		cost := 0.0
		for i, inst := range trainSet {
			vector := features(inst)
			// Compute error: e = y - \hat y
			upGrad := targets[i] - m.predict(vector)
			cost += upGrad * upGrad
			// Update global bias
			m.globalBias += m.Lr * (upGrad - m.Reg*m.globalBias)
			// Update bias
			for _, index := range vector {
				m.bias[index] += m.Lr * (upGrad - m.Reg*m.bias[index])
			}
			// Update factors
			//   \frac {\partial\hat{y}(x)} {\partial v_{i,f}}
			//   = x_i \sum^n_{j=1} v_{j,f}x_j - v_{i,f}x^2_i
			// 1. Pre-compute \sum^n_{j=1} v_{j,f}x_j
			clear(temp)
			for _, index := range vector {
				floats.Add(temp, m.factors[index])
			}
			// 2. Update by x_i \sum^n_{j=1} v_{j,f}x_j - v_{i,f}x^2_i
			for _, index := range vector {
				floats.ScaleTo(gradFactor, upGrad, temp)
				floats.AddScaled(gradFactor, -upGrad-m.Reg, m.factors[index])
				floats.AddScaled(m.factors[index], m.Lr, gradFactor)
			}
		}
		if math.IsNaN(cost) || math.IsInf(cost, 0) {
			return &EngineExecutionError{Message: "training diverged"}
		}
		log.Logger().Debug("fit factorization machine",
			zap.Int("epoch", epoch+1),
			zap.Int("n_epochs", m.NEpochs),
			zap.Float64("cost", cost))
	}
	return nil
}
