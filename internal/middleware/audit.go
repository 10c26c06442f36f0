package middleware

import (
	"bytes"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
)

// AuditWrites records admin write operations (POST/PUT/PATCH/DELETE) to the
// audit trail. It runs after the handler so the response status is known.
func AuditWrites(audit *services.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "PATCH" && method != "DELETE" {
			c.Next()
			return
		}

		// Capture request body (up to 2000 chars for Details)
		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = string(bodyBytes)
			if len(bodySnippet) > 2000 {
				bodySnippet = bodySnippet[:2000] + "...[truncated]"
			}
			bodySnippet = maskSensitiveFields(bodySnippet)
		}

		c.Next()

		userID := GetUserID(c)
		var actorID *uint
		if userID > 0 {
			actorID = &userID
		}

		audit.Log(services.AuditEntry{
			Action:     routeAction(c.FullPath(), method),
			ActorID:    actorID,
			ActorEmail: GetEmail(c),
			TargetType: "http",
			TargetID:   c.Request.URL.Path,
			Details:    formatAuditDetails(method, c.Writer.Status(), bodySnippet),
			IP:         c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
		})
	}
}

// routeAction derives an audit action name from a Gin route pattern.
// e.g. "/api/admin/users/:id" + "PUT" → "admin.users.update"
func routeAction(fullPath, method string) string {
	path := strings.TrimPrefix(fullPath, "/api/")

	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || strings.HasPrefix(seg, ":") || strings.HasPrefix(seg, "*") {
			continue
		}
		segments = append(segments, strings.ReplaceAll(seg, "-", "_"))
	}
	if len(segments) == 0 {
		segments = []string{"unknown"}
	}

	var verb string
	switch method {
	case "POST":
		verb = "create"
	case "PUT", "PATCH":
		verb = "update"
	case "DELETE":
		verb = "delete"
	default:
		verb = strings.ToLower(method)
	}

	return strings.Join(segments, ".") + "." + verb
}

func formatAuditDetails(method string, status int, body string) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteString(" → ")
	if status >= 200 && status < 300 {
		b.WriteString("ok")
	} else {
		b.WriteString("failed")
	}
	if body != "" {
		b.WriteString("; body=")
		b.WriteString(body)
	}
	return b.String()
}

// maskSensitiveFields replaces sensitive values in JSON body
func maskSensitiveFields(body string) string {
	sensitiveKeys := []string{"password", "new_password", "secret", "token", "code", "access_token", "refresh_token"}
	lower := strings.ToLower(body)
	for _, key := range sensitiveKeys {
		if strings.Contains(lower, key) {
			body = maskJSONValue(body, key)
		}
	}
	return body
}

// maskJSONValue does a best-effort mask of JSON string values for a given key
func maskJSONValue(body, key string) string {
	lower := strings.ToLower(body)
	idx := strings.Index(lower, "\""+key+"\"")
	if idx == -1 {
		return body
	}

	// Find the colon after the key
	colonIdx := strings.Index(body[idx+len(key)+2:], ":")
	if colonIdx == -1 {
		return body
	}
	valueStart := idx + len(key) + 2 + colonIdx + 1

	// Skip whitespace
	for valueStart < len(body) && (body[valueStart] == ' ' || body[valueStart] == '\t') {
		valueStart++
	}

	if valueStart >= len(body) {
		return body
	}

	if body[valueStart] == '"' {
		endQuote := strings.Index(body[valueStart+1:], "\"")
		if endQuote == -1 {
			return body
		}
		return body[:valueStart+1] + "***" + body[valueStart+1+endQuote:]
	}

	return body
}
