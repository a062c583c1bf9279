// Package classifier implements the Classifier (C12, spec.md §4.10): a
// per-tenant online linear classifier with softmax over sector labels,
// trained by SGD over (meanVec, primarySector) samples. Grounded on
// theRebelliousNerd-codenerd's internal/perception/semantic_classifier.go for
// the per-tenant, store-backed classification shape (confidence-gated
// routing, graceful degradation on missing model), generalized from its
// corpus-similarity match to a trained softmax model. The per-tenant LRU
// cache follows the hashicorp/golang-lru/v2 usage seen throughout
// AKJUS-bsc-erigon for bounded in-memory caches.
package classifier

import (
	"context"
	"errors"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tablestore"
)

// Sample is a single (feature, label) training example: a memory's mean
// vector paired with its primary sector.
type Sample struct {
	MeanVec []float32
	Sector  model.Sector
}

// Prediction is the classifier's output for a single input vector.
type Prediction struct {
	Sector     model.Sector
	Confidence float64
	Scores     map[model.Sector]float64
}

// ConfidenceThreshold is the spec.md §4.3 gate: the Sector Router only
// trusts the classifier's prediction when confidence is at or above this.
const ConfidenceThreshold = 0.6

// MaxTrainingSamples bounds how many samples a single Train call fetches
// from the table store (spec.md §4.10: "up to 10k").
const MaxTrainingSamples = 10000

// Classifier holds a per-tenant LRU cache of trained models, backed by the
// table store for persistence.
type Classifier struct {
	store *tablestore.Store
	cache *lru.Cache[string, *model.ClassifierModel]
}

// New returns a Classifier caching up to cacheSize tenant models in memory.
func New(store *tablestore.Store, cacheSize int) (*Classifier, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	c, err := lru.New[string, *model.ClassifierModel](cacheSize)
	if err != nil {
		return nil, errs.Internal("classifier.New", err)
	}
	return &Classifier{store: store, cache: c}, nil
}

// modelFor returns the cached model for tenantID, loading it from the table
// store on a cache miss. It returns (nil, nil) if no model has been trained
// yet for this tenant (graceful degradation: the router falls back to
// heuristics).
func (c *Classifier) modelFor(ctx context.Context, tenantID string) (*model.ClassifierModel, error) {
	if m, ok := c.cache.Get(tenantID); ok {
		return m, nil
	}
	m, err := c.store.GetClassifierModel(ctx, tenantID)
	if errs.KindOf(err) == errs.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.cache.Add(tenantID, m)
	return m, nil
}

// Invalidate evicts tenantID's cached model, forcing the next Predict to
// reload from the table store. Called after Train persists new weights.
func (c *Classifier) Invalidate(tenantID string) {
	c.cache.Remove(tenantID)
}

// Predict runs the per-tenant softmax model (if any) against vec, returning
// (nil, nil) when the tenant has no trained model yet.
func (c *Classifier) Predict(ctx context.Context, tenantID string, vec []float32) (*Prediction, error) {
	m, err := c.modelFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	return predict(m, vec), nil
}

func predict(m *model.ClassifierModel, vec []float32) *Prediction {
	logits := make(map[model.Sector]float64, len(m.Weights))
	maxLogit := math.Inf(-1)
	for _, sector := range model.AllSectors {
		w, ok := m.Weights[sector]
		if !ok {
			continue
		}
		logit := m.Biases[sector]
		for i := 0; i < len(w) && i < len(vec); i++ {
			logit += w[i] * float64(vec[i])
		}
		logits[sector] = logit
		if logit > maxLogit {
			maxLogit = logit
		}
	}

	var sum float64
	scores := make(map[model.Sector]float64, len(logits))
	for sector, logit := range logits {
		e := math.Exp(logit - maxLogit)
		scores[sector] = e
		sum += e
	}
	var best model.Sector
	var bestScore float64
	for sector, e := range scores {
		scores[sector] = e / sum
		if scores[sector] > bestScore {
			bestScore = scores[sector]
			best = sector
		}
	}
	return &Prediction{Sector: best, Confidence: bestScore, Scores: scores}
}

// Train performs SGD over up to MaxTrainingSamples (meanVec, primarySector)
// pairs fetched from the table store, starting from the tenant's existing
// model if one exists, and persists the result with version bumped by one
// (spec.md §4.10).
func (c *Classifier) Train(ctx context.Context, tenantID string, lr float64, epochs int) (*model.ClassifierModel, error) {
	if lr <= 0 {
		lr = 0.05
	}
	if epochs <= 0 {
		epochs = 5
	}

	tid := tenantID
	memories, err := c.store.ListByTenant(ctx, &tid, MaxTrainingSamples)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, 0, len(memories))
	for _, mem := range memories {
		if len(mem.MeanVec) == 0 {
			continue
		}
		samples = append(samples, Sample{MeanVec: mem.MeanVec, Sector: mem.PrimarySector})
	}
	if len(samples) == 0 {
		return nil, errs.Invalid("classifier.Train", errNoTrainingSamples)
	}

	existing, err := c.modelFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	dim := len(samples[0].MeanVec)
	weights := make(map[model.Sector][]float64, len(model.AllSectors))
	biases := make(map[model.Sector]float64, len(model.AllSectors))
	for _, sector := range model.AllSectors {
		if existing != nil {
			if w, ok := existing.Weights[sector]; ok && len(w) == dim {
				wc := make([]float64, dim)
				copy(wc, w)
				weights[sector] = wc
				biases[sector] = existing.Biases[sector]
				continue
			}
		}
		weights[sector] = make([]float64, dim)
		biases[sector] = 0
	}

	trained := &model.ClassifierModel{TenantID: tenantID, Weights: weights, Biases: biases}
	for epoch := 0; epoch < epochs; epoch++ {
		for _, s := range samples {
			sgdStep(trained, s, lr)
		}
	}

	var version int64 = 1
	if existing != nil {
		version = existing.Version + 1
	}
	trained.Version = version
	trained.UpdatedAt = nowMillis()

	if err := c.store.PutClassifierModel(ctx, trained); err != nil {
		return nil, err
	}
	c.cache.Add(tenantID, trained)
	return trained, nil
}

// sgdStep applies one softmax-cross-entropy gradient step for a single
// sample to m in place.
func sgdStep(m *model.ClassifierModel, s Sample, lr float64) {
	pred := predict(m, s.MeanVec)
	for _, sector := range model.AllSectors {
		w, ok := m.Weights[sector]
		if !ok {
			continue
		}
		target := 0.0
		if sector == s.Sector {
			target = 1.0
		}
		grad := pred.Scores[sector] - target
		for i := range w {
			if i < len(s.MeanVec) {
				w[i] -= lr * grad * float64(s.MeanVec[i])
			}
		}
		m.Biases[sector] -= lr * grad
	}
}

var errNoTrainingSamples = errors.New("classifier: tenant has no memories with a mean vector to train on")

func nowMillis() int64 { return timeNowFunc().UnixMilli() }

var timeNowFunc = time.Now
