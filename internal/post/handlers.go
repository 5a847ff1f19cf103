package post

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"backend-travellog/internal/apperr"
	"backend-travellog/internal/auth"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the post endpoints on r, normally the /posts group.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		sub, err := parseSubmission(c)
		if err != nil {
			return writeError(c, svc.log, err)
		}
		post, replayed, err := svc.Submit(c.UserContext(), sub)
		if err != nil {
			return writeError(c, svc.log, err)
		}
		status := fiber.StatusCreated
		if replayed {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(fiber.Map{"post": post})
	})

	r.Get("/", func(c *fiber.Ctx) error {
		posts, err := svc.FindAll(c.UserContext())
		if err != nil {
			return writeError(c, svc.log, err)
		}
		return c.JSON(fiber.Map{"posts": posts})
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		post, err := svc.FindByID(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, svc.log, err)
		}
		return c.JSON(fiber.Map{"post": post})
	})

	r.Put("/:id", authMiddleware, func(c *fiber.Ctx) error {
		patch, err := parsePatch(c)
		if err != nil {
			return writeError(c, svc.log, err)
		}
		post, err := svc.Update(c.UserContext(), c.Params("id"), patch)
		if err != nil {
			return writeError(c, svc.log, err)
		}
		return c.JSON(fiber.Map{"post": post})
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Delete(c.UserContext(), c.Params("id")); err != nil {
			return writeError(c, svc.log, err)
		}
		return c.JSON(fiber.Map{"message": "post deleted"})
	})
}

// RegisterUserRoutes mounts the read of a user's post collection on r,
// normally the /users group.
func RegisterUserRoutes(r fiber.Router, svc *Service) {
	r.Get("/:id/posts", func(c *fiber.Ctx) error {
		ids, err := svc.UserPostIDs(c.UserContext(), c.Params("id"))
		if apperr.IsNotFoundResource(err, "user") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "user not found", "code": "not_found"})
		}
		if err != nil {
			return writeError(c, svc.log, err)
		}
		return c.JSON(fiber.Map{"post_ids": ids})
	})
}

// writeError renders err as {"message","code"}. The cause is logged, never
// sent.
func writeError(c *fiber.Ctx, log *slog.Logger, err error) error {
	status := apperr.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed", "method", c.Method(), "path", c.Path(), "status", status, "error", err)
	}
	return c.Status(status).JSON(fiber.Map{
		"message": apperr.PublicMessage(err),
		"code":    apperr.Code(err),
	})
}

func parseSubmission(c *fiber.Ctx) (Submission, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return Submission{}, apperr.NewValidation("body", "multipart form required")
	}

	sub := Submission{
		UserID:         auth.UserID(c),
		IdempotencyKey: strings.TrimSpace(c.Get("Idempotency-Key")),
		Fields: Fields{
			SubLocation: formValue(form, "sub_location"),
			Description: formValue(form, "description"),
			Location:    formValue(form, "location"),
			Date:        formValue(form, "date"),
			LocationURL: formValue(form, "location_url"),
		},
	}
	if raw := formValue(form, "posted_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Submission{}, apperr.NewValidation("posted_at", "posted_at must be an RFC 3339 timestamp")
		}
		sub.Fields.PostedAt = &t
	}

	for _, fh := range form.File["images"] {
		img, err := readImage(fh)
		if err != nil {
			return Submission{}, apperr.NewValidation("images", "unreadable image "+fh.Filename)
		}
		sub.Images = append(sub.Images, img)
	}
	return sub, nil
}

func readImage(fh *multipart.FileHeader) (ImageUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return ImageUpload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return ImageUpload{}, err
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return ImageUpload{Data: data, Filename: fh.Filename, ContentType: contentType}, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// parsePatch accepts a JSON body or form fields; absent keys stay nil. A
// multipart body may carry one replacement file in "image".
func parsePatch(c *fiber.Ctx) (Patch, error) {
	var patch Patch
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(c.Body(), &patch); err != nil {
			return Patch{}, apperr.NewValidation("body", "invalid JSON body")
		}
		return patch, nil
	}

	// nil for urlencoded bodies
	form, _ := c.MultipartForm()
	lookup := func(key string) *string {
		if form != nil {
			if v, ok := form.Value[key]; ok && len(v) > 0 {
				s := v[0]
				return &s
			}
			return nil
		}
		if c.Request().PostArgs().Has(key) {
			s := c.FormValue(key)
			return &s
		}
		return nil
	}
	patch.SubLocation = lookup("sub_location")
	patch.Description = lookup("description")
	patch.Location = lookup("location")
	patch.LocationURL = lookup("location_url")
	patch.ImageURL = lookup("image_url")

	if form == nil {
		return patch, nil
	}
	for field, files := range form.File {
		if field != "image" {
			return Patch{}, apperr.NewValidation("image", "replacement image must be sent as the image field")
		}
		if len(files) != 1 {
			return Patch{}, apperr.NewValidation("image", "only one replacement image is accepted")
		}
		img, err := readImage(files[0])
		if err != nil {
			return Patch{}, apperr.NewValidation("image", "unreadable image "+files[0].Filename)
		}
		patch.Image = &img
	}
	return patch, nil
}
