package metrics

import (
	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
)

// FileName is the snapshot file kept in the data directory.
const FileName = "metrics.json"

// Save writes a snapshot of m to path.
func (m *MetricsManager) Save(path string) error {
	return config.AtomicWriteJSON(path, m.GetSnapshot(), 0600)
}

// LoadSnapshot reads a snapshot written by Save.
func LoadSnapshot(path string) (*Snapshot, error) {
	var snap Snapshot
	if err := config.ReadJSON(path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
