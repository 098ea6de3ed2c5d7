package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
)

type demoUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

var demoUsers = map[int]demoUser{
	1: {ID: 1, Username: "alice", Email: "alice@example.com", Role: "user"},
	2: {ID: 2, Username: "bob", Email: "bob@example.com", Role: "user"},
	3: {ID: 3, Username: "admin", Email: "admin@example.com", Role: "admin"},
}

// GetUser is the IDOR trap: any caller may read any user by id.
func (h *APIHandler) GetUser(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "id must be an integer"})
		return
	}
	user, ok := demoUsers[id]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Upload is the weak-validation trap: any file type is accepted and stored
// under its own name.
func (h *APIHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "file is required"})
		return
	}
	c.Set(ctxUploadName, file.Filename)

	name := filepath.Base(file.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		zlog.Error().Err(err).Str("dir", h.cfg.UploadDir).Msg("Failed to create upload dir")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}
	if err := c.SaveUploadedFile(file, filepath.Join(h.cfg.UploadDir, name)); err != nil {
		zlog.Error().Err(err).Str("file", name).Msg("Failed to store upload")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}

	var note interface{}
	if v, ok := c.GetPostForm("note"); ok {
		note = v
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"stored_as":  name,
		"bytes":      file.Size,
		"note":       note,
		"request_id": c.GetString(ctxRequestID),
	})
}

// AdminStats is the broken-RBAC trap: no authorization at all.
func (h *APIHandler) AdminStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"users":       len(demoUsers),
		"uploads_dir": h.cfg.UploadDir + "/",
		"message":     "Admin stats (intentionally exposed)",
	})
}
