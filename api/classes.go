package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/gin-gonic/gin"
)

// readObject decodes a JSON object body. Numbers keep the float64 form the
// validator expects.
func readObject(c *gin.Context) (map[string]any, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		return nil, core.NewError(core.KindInvalidJSON, "Invalid JSON.")
	}
	return data, nil
}

// readWhere parses the optional where query parameter.
func readWhere(c *gin.Context) (map[string]any, error) {
	raw := c.Query("where")
	if raw == "" {
		return nil, nil
	}
	var where map[string]any
	if err := json.Unmarshal([]byte(raw), &where); err != nil {
		return nil, core.NewError(core.KindInvalidQuery, "where must be a JSON object.")
	}
	return where, nil
}

func collectionFor(c *gin.Context, p persistence.PersistenceInterface) (persistence.PersistenceCollectionInterface, bool) {
	col, err := p.Collection(c.Param("className"))
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return col, true
}

func HandleCreateObject(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		col, ok := collectionFor(c, p)
		if !ok {
			return
		}
		data, err := readObject(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		doc, err := col.Create(c.Request.Context(), authFrom(c), data)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

// HandleFindObjects lists matching objects, or only their number when
// count=1 is passed.
func HandleFindObjects(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		col, ok := collectionFor(c, p)
		if !ok {
			return
		}
		where, err := readWhere(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if c.Query("count") == "1" {
			n, err := col.Count(c.Request.Context(), authFrom(c), where)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"count": n})
			return
		}
		result, err := col.Find(c.Request.Context(), authFrom(c), where)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func HandleGetObject(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		col, ok := collectionFor(c, p)
		if !ok {
			return
		}
		doc, err := col.Get(c.Request.Context(), authFrom(c), c.Param("objectId"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func HandleUpdateObject(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		col, ok := collectionFor(c, p)
		if !ok {
			return
		}
		patch, err := readObject(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		doc, err := col.Update(c.Request.Context(), authFrom(c), c.Param("objectId"), patch)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func HandleDeleteObject(p persistence.PersistenceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		col, ok := collectionFor(c, p)
		if !ok {
			return
		}
		if err := col.Delete(c.Request.Context(), authFrom(c), c.Param("objectId")); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	}
}
