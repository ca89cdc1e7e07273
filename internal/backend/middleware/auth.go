package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.im.desk/internal/backend/response"
	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/jwt"
)

const (
	ctxOperatorID = "operator_id"
	ctxStoreID    = "store_id"
	ctxName       = "operator_name"
)

// JWTAuth JWT 认证中间件
func JWTAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c, apperrors.ErrTokenInvalid)
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Unauthorized(c, apperrors.ErrTokenExpired)
			} else {
				response.Unauthorized(c, apperrors.ErrTokenInvalid)
			}
			c.Abort()
			return
		}

		c.Set(ctxOperatorID, claims.OperatorID)
		c.Set(ctxStoreID, claims.StoreID)
		c.Set(ctxName, claims.Name)
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// GetOperatorID 从 context 获取客服 ID
func GetOperatorID(c *gin.Context) int64 {
	return c.GetInt64(ctxOperatorID)
}

// GetStoreID 从 context 获取店铺 ID
func GetStoreID(c *gin.Context) int64 {
	return c.GetInt64(ctxStoreID)
}

// GetOperatorName 从 context 获取客服名称
func GetOperatorName(c *gin.Context) string {
	return c.GetString(ctxName)
}
