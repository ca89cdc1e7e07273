package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.desk/internal/backend/response"
	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/jwt"
	"sudooom.im.desk/internal/proto"
)

// AuthHandler 开发环境认证处理器
type AuthHandler struct {
	jwtService *jwt.Service
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(jwtService *jwt.Service) *AuthHandler {
	return &AuthHandler{jwtService: jwtService}
}

// IssueToken 直接签发客服 token，仅在 debug 模式注册
// POST /api/v1/auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req proto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	role := jwt.Role(req.Role)
	if role == "" {
		role = jwt.RoleOperator
	}
	if role != jwt.RoleOperator && role != jwt.RoleVisitor {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, "unknown role")
		return
	}

	token, expiresAt, err := h.jwtService.GenerateToken(req.OperatorID, req.StoreID, req.Name, role)
	if err != nil {
		response.ErrorFromAppError(c, apperrors.ErrServerError.Wrap(err))
		return
	}

	response.Success(c, proto.TokenResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Unix(),
	})
}
