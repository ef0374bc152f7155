package rest

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/leadengine/whatsapp-ingest/infrastructure/mediastore"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
)

type Uploads struct {
	store *mediastore.DiskStore
}

// InitRestUploads serves the stored media bodies under the same base URL
// Put embeds into message rows. Signed URLs are verified before the file
// is touched.
func InitRestUploads(app fiber.Router, baseURL string, store *mediastore.DiskStore) Uploads {
	rest := Uploads{store: store}
	app.Get(strings.TrimSuffix(baseURL, "/")+"/*", rest.Serve)
	return rest
}

func (handler *Uploads) Serve(c *fiber.Ctx) error {
	rel, err := decodePath(c.Params("*"))
	if err != nil {
		panic(apperror.NotFoundError("media not found"))
	}

	exp, _ := strconv.ParseInt(c.Query("exp"), 10, 64)
	if !handler.store.Verify(rel, c.Query("sig"), exp) {
		panic(apperror.AuthInvalidSignatureError("media link is invalid or expired"))
	}

	path, err := handler.store.Resolve(rel)
	if err != nil {
		panic(apperror.NotFoundError("media not found"))
	}
	return c.SendFile(path)
}

func decodePath(raw string) (string, error) {
	rel := strings.TrimPrefix(raw, "/")
	if rel == "" || strings.Contains(rel, "..") {
		return "", apperror.NotFoundError("media not found")
	}
	return rel, nil
}
