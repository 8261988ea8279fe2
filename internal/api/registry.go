package api

import (
	"net/http"
	"strings"

	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/studentid"

	"github.com/gin-gonic/gin"
)

type createDistrictRequest struct {
	StateCode string `json:"state_code" binding:"required"`
	Name      string `json:"name" binding:"required"`
}

type createSchoolRequest struct {
	StateCode    string `json:"state_code" binding:"required"`
	DistrictCode string `json:"district_code" binding:"required"`
	Name         string `json:"name" binding:"required"`
}

// ListStates returns the registry the operator may work with.
func (h *Handler) ListStates(c *gin.Context) {
	states, err := h.catalog.ListStates(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	visible := make([]model.State, 0, len(states))
	for _, s := range states {
		if checkState(c, s.Code) == nil {
			visible = append(visible, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{"states": visible})
}

func (h *Handler) ListSchools(c *gin.Context) {
	stateCode := strings.ToUpper(c.Query("state"))
	if stateCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required"})
		return
	}
	if err := checkState(c, stateCode); err != nil {
		h.respondError(c, err)
		return
	}
	schools, err := h.catalog.ListSchools(c.Request.Context(), stateCode, studentid.PadDistrict(c.Query("district")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schools": schools})
}

func (h *Handler) CreateDistrict(c *gin.Context) {
	var req createDistrictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	stateCode := strings.ToUpper(strings.TrimSpace(req.StateCode))
	if err := checkState(c, stateCode); err != nil {
		h.respondError(c, err)
		return
	}

	district, err := h.registry.ResolveOrCreateDistrict(c.Request.Context(), stateCode, req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, district)
}

func (h *Handler) CreateSchool(c *gin.Context) {
	var req createSchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	stateCode := strings.ToUpper(strings.TrimSpace(req.StateCode))
	if err := checkState(c, stateCode); err != nil {
		h.respondError(c, err)
		return
	}

	school, err := h.registry.ResolveOrCreateSchool(c.Request.Context(), model.School{
		Name:         req.Name,
		StateCode:    stateCode,
		DistrictCode: req.DistrictCode,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, school)
}

// GetCapacity reports the free codes at the most specific level asked for:
// serials of a school, schools of a district, or districts overall.
func (h *Handler) GetCapacity(c *gin.Context) {
	ctx := c.Request.Context()
	stateCode := strings.ToUpper(c.Query("state"))
	district := c.Query("district")
	school := c.Query("school")

	if stateCode != "" {
		if err := checkState(c, stateCode); err != nil {
			h.respondError(c, err)
			return
		}
	}

	var (
		capacity model.Capacity
		err      error
	)
	switch {
	case school != "" && district != "" && stateCode != "":
		capacity, err = h.registry.SerialCapacity(ctx, model.SchoolKey{
			StateCode:    stateCode,
			DistrictCode: studentid.PadDistrict(district),
			SchoolCode:   studentid.PadSchool(school),
		})
	case district != "" && stateCode != "":
		capacity, err = h.registry.SchoolCapacity(ctx, stateCode, district)
	case school == "" && district == "":
		capacity, err = h.registry.DistrictCapacity(ctx)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required with district, district with school"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, capacity)
}
