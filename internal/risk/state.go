package risk

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"TradeSentinel/internal/model"
)

// LoadState reads the risk state from a JSON file. Returns nil if the file doesn't exist.
func LoadState(filePath string) (*model.RiskState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state model.RiskState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.LastTradeTime == nil {
		state.LastTradeTime = make(map[string]time.Time)
	}
	return &state, nil
}

// SaveState writes the risk state to a JSON file through a temp file and rename.
func SaveState(filePath string, state *model.RiskState) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}
