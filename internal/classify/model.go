package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/outagelens/internal/features"
	"github.com/ppiankov/outagelens/internal/model"
)

// ErrModelLoad is returned when a persisted model cannot be restored.
// It is fatal for the provider that owns the model.
var ErrModelLoad = errors.New("model load failed")

// FormatVersion is bumped whenever the persisted layout changes
const FormatVersion = 1

// Model is a trained verifier: the schema it was fit on plus the forest
type Model struct {
	Format    int                `json:"format"`
	Provider  model.Provider     `json:"provider"`
	Schema    features.Schema    `json:"schema"`
	Forest    *Forest            `json:"forest"`
	Metrics   *model.EvalMetrics `json:"metrics,omitempty"`
	RFE       *RFEReport         `json:"rfe,omitempty"`
	TrainedAt time.Time          `json:"trained_at"`
}

// PredictProba scores rows laid out under m.Schema
func (m *Model) PredictProba(X []model.FeatureVector) ([]float64, error) {
	return m.Forest.PredictProba(X)
}

// Predict returns hard labels for rows laid out under m.Schema
func (m *Model) Predict(X []model.FeatureVector) ([]int, error) {
	return m.Forest.Predict(X)
}

// Marshal serializes the model
func (m *Model) Marshal() ([]byte, error) {
	if m.Forest == nil {
		return nil, fmt.Errorf("marshal model: no forest")
	}
	m.Format = FormatVersion
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal model: %w", err)
	}
	return data, nil
}

// Unmarshal restores a model. Any failure wraps ErrModelLoad.
func Unmarshal(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrModelLoad)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if m.Format != FormatVersion {
		return nil, fmt.Errorf("%w: format %d, want %d", ErrModelLoad, m.Format, FormatVersion)
	}
	if m.Forest == nil || len(m.Forest.Trees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrModelLoad)
	}
	if m.Forest.NFeatures != m.Schema.Len() {
		return nil, fmt.Errorf("%w: forest expects %d features, schema %s has %d",
			ErrModelLoad, m.Forest.NFeatures, m.Schema.ID(), m.Schema.Len())
	}
	for i, t := range m.Forest.Trees {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrModelLoad, i, err)
		}
	}
	return &m, nil
}

func (t *Tree) validate() error {
	if t == nil || len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Left < 0 && n.Right < 0 {
			continue
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, n.Left, n.Right)
		}
		if n.Feature < 0 || n.Feature >= t.NFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, t.NFeatures)
		}
	}
	return nil
}
