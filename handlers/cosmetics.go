package handlers

import (
	"context"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"dice-duel/middleware"
	"dice-duel/models"
	"dice-duel/services"
)

// AssetUploader stores a cosmetic asset file under key.
type AssetUploader interface {
	UploadFile(ctx context.Context, fileHeader *multipart.FileHeader, key string) (string, error)
}

// SetupCosmeticRoutes registers the cosmetic catalog. uploader may be nil, in
// which case the admin upload route is not registered.
func SetupCosmeticRoutes(secured fiber.Router, cosmetics *services.CosmeticService, uploader AssetUploader) {
	secured.Get("/cosmetics", func(c *fiber.Ctx) error {
		list, err := cosmetics.Catalog(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"cosmetics": list})
	})

	if uploader == nil {
		return
	}

	// 🔐 admin: replace the file behind a catalog entry (multipart field "file")
	secured.Post("/admin/cosmetics/:kind/:id/asset", middleware.RequireRole("admin"), func(c *fiber.Ctx) error {
		ref := models.CosmeticRef{Kind: models.CosmeticKind(c.Params("kind")), ID: c.Params("id")}
		asset, err := cosmetics.Lookup(ref)
		if err != nil {
			return respondError(c, err)
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			return badRequest(c, "file is required")
		}

		url, err := uploader.UploadFile(c.UserContext(), fileHeader, asset.Key)
		if err != nil {
			log.Error().Err(err).Str("cosmetic", ref.String()).Msg("❌ [COSMETICS] upload failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to upload asset"})
		}

		log.Info().Str("cosmetic", ref.String()).Str("key", asset.Key).Msg("✅ [COSMETICS] asset uploaded")
		return c.JSON(fiber.Map{"ref": ref, "key": asset.Key, "url": url})
	})
}

// SetupHealthRoutes registers the liveness probe.
func SetupHealthRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
