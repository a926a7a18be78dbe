package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tessellate-io/bucketdb/internal/hooks"
	"github.com/tessellate-io/bucketdb/internal/index"
	"github.com/tessellate-io/bucketdb/internal/pipeline"
	"github.com/tessellate-io/bucketdb/internal/postgresql"
	"github.com/tessellate-io/bucketdb/pkg/datamodel"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

// SetupRestAPI initializes the REST API and starts listening
func SetupRestAPI(pipe *pipeline.Pipeline, conn *postgresql.Connection) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// Healthcheck
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/bucket", handleCreateBucket(conn))
		v1.PUT("/bucket/:bucketName/object/:objectName", handlePutObject(pipe))
		v1.GET("/bucket/:bucketName/object/:objectName", handleGetObject(conn))
	}

	apiPort, err := env.GetAsInt("API_PORT", false, 8080)
	if err != nil {
		zap.S().Fatalf("Failed to get API_PORT from env: %s", err)
	}
	go func() {
		err := router.Run(fmt.Sprintf(":%d", apiPort))
		if err != nil {
			zap.S().Fatalf("Error starting REST API: %s", err)
		}
	}()
}

type putObjectResponse struct {
	Key      string `json:"key"`
	Etag     string `json:"etag"`
	Inserted bool   `json:"inserted"`
}

func handlePutObject(pipe *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		var value map[string]any
		err = json.Unmarshal(body, &value)
		if err != nil {
			c.String(http.StatusBadRequest, "request body is not a JSON document")
			return
		}

		requestId := c.GetHeader("X-Request-Id")
		if requestId == "" {
			requestId = uuid.New().String()
		}

		headers := make(map[string]string, len(c.Request.Header))
		for name := range c.Request.Header {
			headers[name] = c.GetHeader(name)
		}

		req := &datamodel.WriteRequest{
			BucketName:   c.Param("bucketName"),
			Key:          c.Param("objectName"),
			Value:        value,
			ExpectedEtag: c.GetHeader("If-Match"),
			RequestID:    requestId,
			Headers:      headers,
		}

		result, err := pipe.PutObject(c.Request.Context(), req)
		if err != nil {
			var hookErr *hooks.HookChainError
			switch {
			case errors.As(err, &hookErr):
				if hookErr.Committed {
					// The write is already stored; only its side effects
					// failed.
					break
				}
				c.String(http.StatusPreconditionFailed, err.Error())
				return
			case isConflict(err):
				c.String(http.StatusConflict, err.Error())
				return
			case isInvalidIndexType(err):
				c.String(http.StatusBadRequest, err.Error())
				return
			case isBucketNotFound(err):
				c.String(http.StatusNotFound, err.Error())
				return
			default:
				c.String(http.StatusInternalServerError, err.Error())
				return
			}
		}

		c.Header("ETag", result.Etag)
		c.JSON(http.StatusOK, putObjectResponse{
			Key:      req.Key,
			Etag:     result.Etag,
			Inserted: result.Inserted,
		})
	}
}

func handleGetObject(conn *postgresql.Connection) gin.HandlerFunc {
	return func(c *gin.Context) {
		bucket, err := conn.LoadBucket(c.Request.Context(), c.Param("bucketName"))
		if err != nil {
			if isBucketNotFound(err) {
				c.String(http.StatusNotFound, err.Error())
				return
			}
			c.String(http.StatusInternalServerError, err.Error())
			return
		}

		value, storedEtag, err := conn.GetObject(c.Request.Context(), bucket, c.Param("objectName"))
		if err != nil {
			var notFound *postgresql.ObjectNotFoundError
			if errors.As(err, &notFound) {
				c.String(http.StatusNotFound, err.Error())
				return
			}
			c.String(http.StatusInternalServerError, err.Error())
			return
		}

		c.Header("ETag", storedEtag)
		c.Data(http.StatusOK, "application/json", value)
	}
}

type createBucketRequest struct {
	Name        string                `json:"name"`
	IndexSchema datamodel.IndexSchema `json:"indexSchema"`
}

func handleCreateBucket(conn *postgresql.Connection) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		var req createBucketRequest
		err = json.Unmarshal(body, &req)
		if err != nil || req.Name == "" {
			c.String(http.StatusBadRequest, "request body must carry a bucket name and index schema")
			return
		}

		err = conn.CreateBucket(c.Request.Context(), req.Name, req.IndexSchema)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.Status(http.StatusCreated)
	}
}

func isConflict(err error) bool {
	var conflict *pipeline.ConcurrencyConflictError
	return errors.As(err, &conflict)
}

func isInvalidIndexType(err error) bool {
	var invalid *index.InvalidIndexTypeError
	return errors.As(err, &invalid)
}

func isBucketNotFound(err error) bool {
	var notFound *postgresql.BucketNotFoundError
	return errors.As(err, &notFound)
}
