package models

import (
	"encoding/json"
	"fmt"
)

type CosmeticKind string

const (
	CosmeticImage CosmeticKind = "image"
	CosmeticVideo CosmeticKind = "video"
)

// CosmeticRef points at one equipped cosmetic. Kind is a closed set.
type CosmeticRef struct {
	Kind CosmeticKind `json:"kind"`
	ID   string       `json:"id"`
}

func (r CosmeticRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Validate rejects unknown kinds and empty ids.
func (r CosmeticRef) Validate() error {
	switch r.Kind {
	case CosmeticImage, CosmeticVideo:
	default:
		return fmt.Errorf("unknown cosmetic kind %q", r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("cosmetic %s has no id", r.Kind)
	}
	return nil
}

// UnmarshalJSON refuses refs outside the closed set of kinds.
func (r *CosmeticRef) UnmarshalJSON(data []byte) error {
	type raw CosmeticRef
	var v raw
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	ref := CosmeticRef(v)
	if err := ref.Validate(); err != nil {
		return err
	}
	*r = ref
	return nil
}
