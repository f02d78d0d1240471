// Package seed carries the built-in compliance plan used when a workspace has no saved snapshot.
package seed

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
)

//go:embed compliance.json
var complianceJSON []byte

// Compliance decodes a fresh copy of the embedded compliance plan.
func Compliance() (domain.ComplianceData, error) {
	var data domain.ComplianceData
	if err := json.Unmarshal(complianceJSON, &data); err != nil {
		return domain.ComplianceData{}, fmt.Errorf("decode seed compliance data: %w", err)
	}
	return data, nil
}

// MustCompliance is Compliance for callers that treat a broken embed as a build defect.
func MustCompliance() domain.ComplianceData {
	data, err := Compliance()
	if err != nil {
		panic(err)
	}
	return data
}
