package license

import (
	"net/http"

	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/middleware"
	"licensing-controlplane/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/datatypes"
)

type Handler struct {
	svc     *Service
	admin   *AdminService
	audit   *Auditor
	limiter ratelimit.Limiter
}

type HandlerParams struct {
	fx.In
	Service *Service
	Admin   *AdminService
	Auditor *Auditor
	Limiter ratelimit.Limiter
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		svc:     p.Service,
		admin:   p.Admin,
		audit:   p.Auditor,
		limiter: p.Limiter,
	}
}

func RegisterRoutes(engine *gin.Engine, h *Handler) {
	v1 := engine.Group("/api/v1")

	v1.POST("/activate", h.Activate)
	v1.POST("/validate", h.Validate)
	v1.POST("/deactivate", h.Deactivate)

	admin := v1.Group("/admin", middleware.RequireAdmin())
	admin.POST("/licenses", h.CreateKeys)
	admin.GET("/licenses", h.ListLicenses)
	admin.GET("/licenses/:id", h.GetLicense)
	admin.PATCH("/licenses/:id", h.PatchLicense)
	admin.DELETE("/licenses/:id", h.DeleteLicense)
	admin.GET("/users", h.SearchUsers)
}

type activateRequest struct {
	LicenseKey string         `json:"license_key" binding:"required"`
	HWID       string         `json:"hwid" binding:"required"`
	DeviceName string         `json:"device_name"`
	DeviceInfo datatypes.JSON `json:"device_info"`
}

func (h *Handler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("license_key and hwid are required"))
		return
	}

	ip := c.ClientIP()
	if !h.limiter.Allow(c.Request.Context(), ip) {
		h.audit.Record(c.Request.Context(), "", ActionActivate, "", ip, false, string(errutil.StatusTooManyRequests))
		c.Error(errutil.TooManyRequest("too many activation attempts, slow down"))
		return
	}

	res, err := h.svc.Activate(c.Request.Context(), ActivateRequest{
		LicenseKey: req.LicenseKey,
		HWID:       req.HWID,
		DeviceName: req.DeviceName,
		DeviceInfo: req.DeviceInfo,
		IPAddress:  ip,
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

type validateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	HWID       string `json:"hwid" binding:"required"`
}

func (h *Handler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("license_key and hwid are required"))
		return
	}

	valid, reason, err := h.svc.Validate(c.Request.Context(), req.LicenseKey, req.HWID, c.ClientIP())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":  valid,
		"reason": reason,
	})
}

func (h *Handler) Deactivate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("license_key and hwid are required"))
		return
	}

	if err := h.svc.Deactivate(c.Request.Context(), req.LicenseKey, req.HWID, c.ClientIP()); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type createKeysRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
	Count  int    `json:"count" binding:"required,gte=1"`
	Notes  string `json:"notes"`
}

func (h *Handler) CreateKeys(c *gin.Context) {
	var req createKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("plan_id and a positive count are required"))
		return
	}

	rows, err := h.admin.CreateKeys(c.Request.Context(), req.PlanID, req.Count, req.Notes, middleware.AdminID(c))
	if err != nil {
		c.Error(err)
		return
	}

	views := make([]*LicenseView, 0, len(rows))
	for i := range rows {
		views = append(views, rows[i].ToView(h.svc.now(), 0, false))
	}

	c.JSON(http.StatusCreated, gin.H{"licenses": views})
}

func (h *Handler) ListLicenses(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		c.Error(errutil.ValidationFailed("invalid pagination parameters"))
		return
	}

	filter := ListFilter{
		Search: c.Query("search"),
		Status: LicenseStatus(c.Query("status")),
		PlanID: c.Query("plan_id"),
	}

	views, pageInfo, err := h.admin.List(c.Request.Context(), filter, p)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"licenses":  views,
		"page_info": pageInfo,
	})
}

func (h *Handler) GetLicense(c *gin.Context) {
	detail, err := h.admin.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

type patchLicenseRequest struct {
	Action string  `json:"action" binding:"required"`
	UserID *string `json:"user_id"`
	Status string  `json:"status"`
}

func (h *Handler) PatchLicense(c *gin.Context) {
	var req patchLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("action is required"))
		return
	}

	action, err := ParseAdminAction(req.Action)
	if err != nil {
		c.Error(err)
		return
	}

	licenseID := c.Param("id")
	actorID := middleware.AdminID(c)

	switch action {
	case ActionAssignUser:
		err = h.admin.AssignUser(c.Request.Context(), licenseID, req.UserID, actorID)
	case ActionToggleStatus:
		err = h.admin.ToggleStatus(c.Request.Context(), licenseID, LicenseStatus(req.Status), actorID)
	case ActionResetHWID:
		err = h.admin.ResetHWID(c.Request.Context(), licenseID, actorID)
	}
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) DeleteLicense(c *gin.Context) {
	force := c.Query("force") == "true"

	if err := h.admin.Delete(c.Request.Context(), c.Param("id"), force, middleware.AdminID(c)); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) SearchUsers(c *gin.Context) {
	users, err := h.admin.SearchUsers(c.Request.Context(), c.Query("search"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}
