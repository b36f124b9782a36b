package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the gateway.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>kcgate Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document describing the gateway's routes.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "kcgate", "version": "v0.1.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } }
  },
  "paths": {
    "/auth/authorize": {
      "get": { "summary": "Authorization URL for the code flow", "parameters": [{"name":"redirect_uri","in":"query","required":true},{"name":"state","in":"query"},{"name":"code_challenge","in":"query"}], "responses": { "200": { "description": "url and state" } } }
    },
    "/auth/login": {
      "post": {
        "summary": "Exchange authorization code / password login",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"mode":{"type":"string"},"username":{"type":"string"},"password":{"type":"string"},"code":{"type":"string"},"redirect_uri":{"type":"string"},"code_verifier":{"type":"string"}}}}}},
        "responses": { "200": { "description": "tokens returned" }, "401": { "description": "grant rejected" }, "502": { "description": "identity provider error" } }
      }
    },
    "/auth/refresh": {
      "post": { "summary": "Refresh access token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refresh_token":{"type":"string"}}}}}}, "responses": { "200": { "description": "new tokens" }, "401": { "description": "invalid refresh" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Revoke refresh token and denylist the access token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refresh_token":{"type":"string"}}}}}}, "responses": { "200": { "description": "logged out" } } }
    },
    "/api/v1/me": {
      "get": { "summary": "Caller identity and roles", "security": [{"bearer":[]}], "responses": { "200": { "description": "identity" }, "401": { "description": "unauthorized" } } }
    },
    "/api/v1/policies/{name}": {
      "get": { "summary": "Evaluate a policy for the caller", "security": [{"bearer":[]}], "responses": { "200": { "description": "policy decision" }, "404": { "description": "unknown policy" } } }
    },
    "/api/v1/users": {
      "get": { "summary": "List users (AdminOnly)", "security": [{"bearer":[]}], "responses": { "200": { "description": "users" }, "403": { "description": "forbidden" } } },
      "post": { "summary": "Create user (AdminOnly)", "security": [{"bearer":[]}], "responses": { "201": { "description": "created" }, "409": { "description": "username taken" } } }
    },
    "/api/v1/users/{id}": {
      "get": { "summary": "Get user (AdminOnly)", "security": [{"bearer":[]}], "responses": { "200": { "description": "user" }, "404": { "description": "not found" } } },
      "put": { "summary": "Update user (AdminOnly)", "security": [{"bearer":[]}], "responses": { "200": { "description": "user" } } },
      "delete": { "summary": "Delete user (AdminOnly)", "security": [{"bearer":[]}], "responses": { "204": { "description": "deleted" } } }
    },
    "/api/v1/users/{id}/roles": {
      "get": { "summary": "User role mappings (AdminOnly)", "security": [{"bearer":[]}], "responses": { "200": { "description": "roles" } } },
      "post": { "summary": "Assign roles (AdminOnly)", "security": [{"bearer":[]}], "responses": { "200": { "description": "roles" }, "400": { "description": "unknown role" } } },
      "delete": { "summary": "Remove roles (AdminOnly)", "security": [{"bearer":[]}], "responses": { "200": { "description": "roles" } } }
    },
    "/api/v1/users/{id}/password": {
      "put": { "summary": "Reset password (AdminOnly)", "security": [{"bearer":[]}], "responses": { "204": { "description": "password set" } } }
    },
    "/api/v1/roles": {
      "get": { "summary": "Realm roles (AdminOnly)", "security": [{"bearer":[]}], "responses": { "200": { "description": "roles" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "exposition" } } } }
  }
}`
