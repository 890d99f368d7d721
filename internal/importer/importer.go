// Package importer persists scraped portal items. Connectors only see the
// count each importer reports.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/gofrs/uuid/v5"
)

// Item is one scraped row keyed by column header.
type Item struct {
	Key    string            `json:"key"`
	Fields map[string]string `json:"fields"`
}

// StableKey returns Key, or a digest of the fields when Key is empty, so the
// same row scraped twice maps to the same record.
func (it Item) StableKey() string {
	if it.Key != "" {
		return it.Key
	}
	names := make([]string, 0, len(it.Fields))
	for k := range it.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, k := range names {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(it.Fields[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Importer writes one section's items and returns how many were new.
type Importer interface {
	ImportRecords(ctx context.Context, credentialID uuid.UUID, items []Item) (int, error)
}

// Set maps a section detail key to its importer.
type Set map[string]Importer

// For returns the importer for section, or Discard.
func (s Set) For(section string) Importer {
	if imp, ok := s[section]; ok && imp != nil {
		return imp
	}
	return Discard{}
}

// Discard drops items and reports zero written.
type Discard struct{}

// ImportRecords implements Importer.
func (Discard) ImportRecords(context.Context, uuid.UUID, []Item) (int, error) { return 0, nil }
