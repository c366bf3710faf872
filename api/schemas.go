package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"github.com/gin-gonic/gin"
)

// readClassRequest decodes the body of a schema mutation. An empty body is
// an empty request.
func readClassRequest(c *gin.Context) (*schema.ClassRequest, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	req := &schema.ClassRequest{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(raw, req); err != nil {
		if _, ok := core.AsError(err); ok {
			return nil, err
		}
		return nil, core.NewError(core.KindInvalidJSON, "Invalid JSON.")
	}
	return req, nil
}

// resolveClassName reconciles the class named by the path with the one in
// the body.
func resolveClassName(c *gin.Context, req *schema.ClassRequest) (string, error) {
	path := c.Param("className")
	switch {
	case path != "" && req.ClassName != "" && path != req.ClassName:
		return "", core.NewError(core.KindInvalidClassName, "Class name mismatch between %s and %s.", req.ClassName, path)
	case path != "":
		return path, nil
	case req.ClassName != "":
		return req.ClassName, nil
	default:
		return "", core.NewError(core.KindMissingRequiredField, "POST %s needs a class name.", "/schemas")
	}
}

func HandleListClasses(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		classes, err := p.AllClasses(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": classes})
	}
}

func HandleGetClass(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := p.GetClass(c.Request.Context(), c.Param("className"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func HandleCreateClass(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := readClassRequest(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		className, err := resolveClassName(c, req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		s, err := p.CreateClass(c.Request.Context(), className, req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func HandleUpdateClass(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := readClassRequest(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		className, err := resolveClassName(c, req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		s, err := p.UpdateClass(c.Request.Context(), className, req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func HandleDeleteClass(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := p.DeleteClass(c.Request.Context(), c.Param("className")); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	}
}

// HandleVerifyIndexes reports index drift for one class.
func HandleVerifyIndexes(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		drift, err := p.VerifyIndexes(c.Request.Context(), c.Param("className"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, drift)
	}
}
