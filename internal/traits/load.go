package traits

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mcoot/bunker/internal/model"
)

// LoadPool reads a JSON array of trait templates from path
func LoadPool(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var templates []model.Traits
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	return NewPool(templates)
}
