package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"dice-duel/engine"
	"dice-duel/models"
)

// CosmeticAsset is one catalog row: a cosmetic and where its file lives.
type CosmeticAsset struct {
	Ref   models.CosmeticRef `json:"ref"`
	Title string             `json:"title"`
	Key   string             `json:"key"`
}

// ResolvedCosmetic is what clients render.
type ResolvedCosmetic struct {
	Ref   models.CosmeticRef `json:"ref"`
	Title string             `json:"title"`
	URL   string             `json:"url"`
}

// URLSigner issues short-lived URLs for private assets.
type URLSigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
}

// DefaultCosmetics is the built-in catalog.
var DefaultCosmetics = []CosmeticAsset{
	{Ref: models.CosmeticRef{Kind: models.CosmeticImage, ID: "classic-felt"}, Title: "Classic Felt", Key: "cosmetics/image/classic-felt.png"},
	{Ref: models.CosmeticRef{Kind: models.CosmeticImage, ID: "neon-grid"}, Title: "Neon Grid", Key: "cosmetics/image/neon-grid.png"},
	{Ref: models.CosmeticRef{Kind: models.CosmeticImage, ID: "ivory-dice"}, Title: "Ivory Dice", Key: "cosmetics/image/ivory-dice.png"},
	{Ref: models.CosmeticRef{Kind: models.CosmeticVideo, ID: "victory-flare"}, Title: "Victory Flare", Key: "cosmetics/video/victory-flare.mp4"},
	{Ref: models.CosmeticRef{Kind: models.CosmeticVideo, ID: "storm-table"}, Title: "Storm Table", Key: "cosmetics/video/storm-table.mp4"},
}

// CosmeticService resolves cosmetic references through a single lookup table.
type CosmeticService struct {
	catalog    map[models.CosmeticRef]CosmeticAsset
	cdnBaseURL string
	signer     URLSigner
}

// NewCosmeticService builds the lookup table. signer may be nil, in which
// case videos are served from the CDN like images.
func NewCosmeticService(assets []CosmeticAsset, cdnBaseURL string, signer URLSigner) *CosmeticService {
	catalog := make(map[models.CosmeticRef]CosmeticAsset, len(assets))
	for _, a := range assets {
		catalog[a.Ref] = a
	}
	return &CosmeticService{
		catalog:    catalog,
		cdnBaseURL: strings.TrimRight(cdnBaseURL, "/"),
		signer:     signer,
	}
}

// Validate checks that every ref is well formed and in the catalog.
func (s *CosmeticService) Validate(refs []models.CosmeticRef) error {
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return engine.ErrInvalidCosmetic.With(err.Error())
		}
		if _, ok := s.catalog[ref]; !ok {
			return engine.ErrInvalidCosmetic.With(ref.String())
		}
	}
	return nil
}

// Lookup returns the catalog row for ref.
func (s *CosmeticService) Lookup(ref models.CosmeticRef) (CosmeticAsset, error) {
	asset, ok := s.catalog[ref]
	if !ok {
		return CosmeticAsset{}, engine.ErrInvalidCosmetic.With(ref.String())
	}
	return asset, nil
}

// Resolve turns a ref into a URL the client can load.
func (s *CosmeticService) Resolve(ctx context.Context, ref models.CosmeticRef) (ResolvedCosmetic, error) {
	asset, err := s.Lookup(ref)
	if err != nil {
		return ResolvedCosmetic{}, err
	}
	out := ResolvedCosmetic{Ref: ref, Title: asset.Title, URL: fmt.Sprintf("%s/%s", s.cdnBaseURL, asset.Key)}
	if ref.Kind == models.CosmeticVideo && s.signer != nil {
		signed, err := s.signer.PresignGet(ctx, asset.Key)
		if err != nil {
			log.Warn().Err(err).Str("cosmetic", ref.String()).Msg("[COSMETICS] presign failed, serving CDN url")
			return out, nil
		}
		out.URL = signed
	}
	return out, nil
}

// Catalog lists every cosmetic resolved, ordered by kind then id.
func (s *CosmeticService) Catalog(ctx context.Context) ([]ResolvedCosmetic, error) {
	refs := make([]models.CosmeticRef, 0, len(s.catalog))
	for ref := range s.catalog {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
	out := make([]ResolvedCosmetic, 0, len(refs))
	for _, ref := range refs {
		r, err := s.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// DefaultLoadout is the cosmetic set given to synthesized opponents.
func (s *CosmeticService) DefaultLoadout() []models.CosmeticRef {
	ref := models.CosmeticRef{Kind: models.CosmeticImage, ID: "classic-felt"}
	if _, ok := s.catalog[ref]; ok {
		return []models.CosmeticRef{ref}
	}
	return nil
}
