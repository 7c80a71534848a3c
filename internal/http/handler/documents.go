package handler

import (
	"errors"
	"mime"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"docvault/internal/model"
	"docvault/internal/service"
)

type markStateRequest struct {
	State       model.State      `json:"state"`
	Reason      model.ReasonCode `json:"reason"`
	Note        string           `json:"note"`
	CorrectedBy string           `json:"corrected_by"`
}

var (
	errFileRequired = errors.New("file is required")
	errFileOpen     = errors.New("cannot open uploaded file")
)

// formFile opens the multipart "file" field. The caller closes the returned file.
func formFile(c *fiber.Ctx) (service.File, multipart.File, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return service.File{}, nil, errFileRequired
	}
	f, err := fh.Open()
	if err != nil {
		return service.File{}, nil, errFileOpen
	}
	return service.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}, f, nil
}

func writeFileError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errFileOpen) {
		return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", err.Error())
	}
	return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", err.Error())
}

// UploadDocument godoc
// @Summary Upload the first version of a document slot
// @Description Stores the file and creates an active version. With as_history=true a lineage that already has an active version receives a superseded version instead of a conflict.
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param X-Actor header string true "Acting user"
// @Param entityType path string true "Entity type" Enums(vivienda, proyecto, cliente)
// @Param entityId path string true "Entity id"
// @Param slot path string true "Document slot"
// @Param file formData file true "Document file"
// @Param as_history formData bool false "Store as a historical version"
// @Success 201 {object} model.DocumentRecord
// @Failure 400 {object} errorPayload
// @Failure 409 {object} errorPayload
// @Failure 503 {object} errorPayload
// @Router /entities/{entityType}/{entityId}/documents/{slot} [post]
func UploadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, ok := actor(c)
		if !ok {
			return writeActorRequired(c)
		}
		lineage, ok := lineageParam(c)
		if !ok {
			return writeInvalidLineage(c)
		}
		asHistory, err := strconv.ParseBool(c.FormValue("as_history", "false"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_AS_HISTORY", "as_history must be a boolean")
		}
		file, f, err := formFile(c)
		if err != nil {
			return writeFileError(c, err)
		}
		defer f.Close()

		rec, err := docSvc.Upload(c.UserContext(), service.UploadInput{
			Lineage:   lineage,
			File:      file,
			Actor:     who,
			AsHistory: asHistory,
		})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(rec)
	}
}

// ListVersions godoc
// @Summary List every version of a document slot
// @Tags documents
// @Produce json
// @Param entityType path string true "Entity type" Enums(vivienda, proyecto, cliente)
// @Param entityId path string true "Entity id"
// @Param slot path string true "Document slot"
// @Success 200 {array} model.DocumentRecord
// @Failure 400 {object} errorPayload
// @Router /entities/{entityType}/{entityId}/documents/{slot}/versions [get]
func ListVersions(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lineage, ok := lineageParam(c)
		if !ok {
			return writeInvalidLineage(c)
		}
		recs, err := docSvc.ListVersions(c.UserContext(), lineage)
		if err != nil {
			return writeServiceError(c, err)
		}
		if recs == nil {
			recs = []model.DocumentRecord{}
		}
		return c.JSON(recs)
	}
}

// GetActiveVersion godoc
// @Summary Get the active version of a document slot
// @Tags documents
// @Produce json
// @Param entityType path string true "Entity type" Enums(vivienda, proyecto, cliente)
// @Param entityId path string true "Entity id"
// @Param slot path string true "Document slot"
// @Success 200 {object} model.DocumentRecord
// @Failure 404 {object} errorPayload
// @Router /entities/{entityType}/{entityId}/documents/{slot}/active [get]
func GetActiveVersion(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lineage, ok := lineageParam(c)
		if !ok {
			return writeInvalidLineage(c)
		}
		rec, err := docSvc.GetActive(c.UserContext(), lineage)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// GetDocument godoc
// @Summary Get a version by id
// @Tags documents
// @Produce json
// @Param id path string true "Version id"
// @Success 200 {object} model.DocumentRecord
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /documents/{id} [get]
func GetDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := idParam(c)
		if !ok {
			return writeInvalidID(c)
		}
		rec, err := docSvc.Get(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// DownloadDocument godoc
// @Summary Download the content of a version
// @Tags documents
// @Produce octet-stream
// @Param id path string true "Version id"
// @Success 200 {file} file
// @Failure 404 {object} errorPayload
// @Failure 503 {object} errorPayload
// @Router /documents/{id}/content [get]
func DownloadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := idParam(c)
		if !ok {
			return writeInvalidID(c)
		}
		body, rec, err := docSvc.Download(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		c.Set(fiber.HeaderContentType, rec.ContentType)
		c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalFilename}))
		// fasthttp closes body once it has been written
		return c.SendStream(body, int(rec.Size))
	}
}

// DocumentURL godoc
// @Summary Get a time-limited download URL for a version
// @Tags documents
// @Produce json
// @Param id path string true "Version id"
// @Param expires_in query string false "URL lifetime as a Go duration" default(15m)
// @Success 200 {object} map[string]string
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /documents/{id}/url [get]
func DocumentURL(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := idParam(c)
		if !ok {
			return writeInvalidID(c)
		}
		expiry, err := time.ParseDuration(c.Query("expires_in", "15m"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_EXPIRY", "expires_in must be a duration such as 15m")
		}
		u, err := docSvc.DownloadURL(c.UserContext(), id, expiry)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"url": u, "expires_in": expiry.String()})
	}
}

// DocumentHistory godoc
// @Summary Audit history of a version
// @Tags documents
// @Produce json
// @Param id path string true "Version id"
// @Success 200 {array} model.AuditEntry
// @Failure 400 {object} errorPayload
// @Router /documents/{id}/history [get]
func DocumentHistory(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := idParam(c)
		if !ok {
			return writeInvalidID(c)
		}
		entries, err := docSvc.History(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		if entries == nil {
			entries = []model.AuditEntry{}
		}
		return c.JSON(entries)
	}
}

// ReplaceDocument godoc
// @Summary Replace the active version with a new file
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param X-Actor header string true "Acting user"
// @Param id path string true "Active version id"
// @Param file formData file true "Replacement file"
// @Success 201 {object} service.ReplaceResult
// @Failure 409 {object} errorPayload
// @Router /documents/{id}/replace [post]
func ReplaceDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, ok := actor(c)
		if !ok {
			return writeActorRequired(c)
		}
		id, ok := idParam(c)
		if !ok {
			return writeInvalidID(c)
		}
		file, f, err := formFile(c)
		if err != nil {
			return writeFileError(c, err)
		}
		defer f.Close()

		res, err := docSvc.Replace(c.UserContext(), id, file, who)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}

// MarkDocumentState godoc
// @Summary Mark a version erroneous, obsolete or deleted
// @Tags documents
// @Accept json
// @Produce json
// @Param X-Actor header string true "Acting user"
// @Param id path string true "Version id"
// @Param request body markStateRequest true "Target state and reason"
// @Success 200 {object} service.TransitionResult
// @Failure 400 {object} errorPayload
// @Failure 409 {object} errorPayload
// @Router /documents/{id}/state [post]
func MarkDocumentState(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, ok := actor(c)
		if !ok {
			return writeActorRequired(c)
		}
		id, ok := idParam(c)
		if !ok {
			return writeInvalidID(c)
		}
		var req markStateRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}

		res, err := docSvc.MarkState(c.UserContext(), service.MarkStateInput{
			VersionID:   id,
			Target:      req.State,
			Reason:      req.Reason,
			Note:        req.Note,
			CorrectedBy: req.CorrectedBy,
			Actor:       who,
		})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// RestoreDocument godoc
// @Summary Make a version active again
// @Description Fails with ILLEGAL_TRANSITION while the lineage has another active version.
// @Tags documents
// @Produce json
// @Param X-Actor header string true "Acting user"
// @Param id path string true "Version id"
// @Success 200 {object} service.TransitionResult
// @Failure 409 {object} errorPayload
// @Router /documents/{id}/restore [post]
func RestoreDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, ok := actor(c)
		if !ok {
			return writeActorRequired(c)
		}
		id, ok := idParam(c)
		if !ok {
			return writeInvalidID(c)
		}
		res, err := docSvc.Restore(c.UserContext(), id, who)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// DeleteDocument godoc
// @Summary Soft delete a version
// @Description The object is kept until the retention window passes and the purge removes it.
// @Tags documents
// @Produce json
// @Param X-Actor header string true "Acting user"
// @Param id path string true "Version id"
// @Success 200 {object} service.TransitionResult
// @Failure 404 {object} errorPayload
// @Failure 409 {object} errorPayload
// @Router /documents/{id} [delete]
func DeleteDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, ok := actor(c)
		if !ok {
			return writeActorRequired(c)
		}
		id, ok := idParam(c)
		if !ok {
			return writeInvalidID(c)
		}
		res, err := docSvc.MarkState(c.UserContext(), service.MarkStateInput{
			VersionID: id,
			Target:    model.StateDeleted,
			Actor:     who,
		})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// HardDeleteDocument godoc
// @Summary Permanently remove a soft-deleted version
// @Tags documents
// @Param X-Actor header string true "Acting user"
// @Param id path string true "Version id"
// @Success 204
// @Failure 409 {object} errorPayload
// @Router /documents/{id}/hard-delete [post]
func HardDeleteDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, ok := actor(c)
		if !ok {
			return writeActorRequired(c)
		}
		id, ok := idParam(c)
		if !ok {
			return writeInvalidID(c)
		}
		if err := docSvc.HardDelete(c.UserContext(), id, who); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
