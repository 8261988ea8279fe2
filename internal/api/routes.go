package api

import (
	"mindleap-provisioning/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *gin.Engine, handler *Handler, tokens TokenParser) {
	// Health check
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(Authenticate(tokens))
	{
		v1.GET("/templates/students", handler.DownloadTemplate)

		// Registry routes
		v1.GET("/registry/states", handler.ListStates)
		v1.GET("/registry/schools", handler.ListSchools)
		v1.GET("/registry/capacity", handler.GetCapacity)
		v1.POST("/districts", RequirePermission(auth.PermissionRegistryWrite), handler.CreateDistrict)
		v1.POST("/schools", RequirePermission(auth.PermissionRegistryWrite), handler.CreateSchool)

		// Student routes
		v1.POST("/students", RequirePermission(auth.PermissionStudentsWrite), handler.CreateStudent)
		v1.GET("/students/:id", handler.GetStudent)
		v1.PATCH("/students/:id", RequirePermission(auth.PermissionStudentsWrite), handler.RenameStudent)
		v1.DELETE("/students/:id", RequirePermission(auth.PermissionStudentsDelete), handler.DeleteStudent)

		// Upload routes
		uploads := v1.Group("/uploads", RequirePermission(auth.PermissionUploads))
		uploads.POST("", handler.CreateUpload)
		uploads.GET("", handler.ListUploads)
		uploads.GET("/:id", handler.GetUpload)
		uploads.POST("/:id/provision", handler.StartProvisioning)
		uploads.GET("/:id/report", handler.DownloadReport)
		uploads.GET("/:id/errors", handler.DownloadErrors)
	}
}
