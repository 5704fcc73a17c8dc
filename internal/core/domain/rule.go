// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"strings"
	"time"
)

// Rule status constants
const (
	StatusEnabled  = "enabled"
	StatusDisabled = "disabled"
	StatusAll      = "all"
)

// SortFields lists the rule fields accepted by the sort parameter
var SortFields = []string{"file", "description", "id", "level", "status"}

// Rule represents a single detection rule parsed from an XML rule file
type Rule struct {
	File        string         `json:"file"`
	ID          int            `json:"id"`
	Level       int            `json:"level"`
	Description string         `json:"description"`
	Status      string         `json:"status"` // "enabled" | "disabled"
	Groups      []string       `json:"groups"`
	PCI         []string       `json:"pci"`
	Details     map[string]any `json:"details"`
}

// NewRule creates an empty rule with initialized collections
func NewRule() *Rule {
	return &Rule{
		Groups:  []string{},
		PCI:     []string{},
		Details: map[string]any{},
	}
}

// SetGroup adds groups to the group list, skipping blanks and duplicates
func (r *Rule) SetGroup(groups ...string) {
	r.Groups = addUnique(r.Groups, groups)
}

// SetPCI adds PCI requirements to the pci list, skipping blanks and duplicates
func (r *Rule) SetPCI(reqs ...string) {
	r.PCI = addUnique(r.PCI, reqs)
}

// AddDetail records a rule detail (category, noalert, field values, etc.).
// A repeated detail name promotes the stored value to a list.
func (r *Rule) AddDetail(name, value string) {
	if existing, ok := r.Details[name]; ok {
		if list, isList := existing.([]string); isList {
			r.Details[name] = append(list, value)
		} else {
			r.Details[name] = []string{existing.(string), value}
		}
		return
	}
	r.Details[name] = value
}

// addUnique appends trimmed, non-empty, not-yet-present items to src
func addUnique(src []string, items []string) []string {
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		seen := false
		for _, existing := range src {
			if existing == trimmed {
				seen = true
				break
			}
		}
		if !seen {
			src = append(src, trimmed)
		}
	}
	return src
}

// RuleFile represents one rule definition file and whether the manager
// configuration includes it
type RuleFile struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "enabled" | "disabled"
}

// RequestRecord is the audit trail entry for one handled API request
type RequestRecord struct {
	ID        string    `json:"id" db:"id"` // UUID assigned per request
	Client    string    `json:"client" db:"client"`
	Method    string    `json:"method" db:"method"`
	Path      string    `json:"path" db:"path"`
	Status    int       `json:"status" db:"status"`
	ErrorCode int       `json:"error_code" db:"error_code"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
