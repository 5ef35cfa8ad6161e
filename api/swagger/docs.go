// Package swagger holds the OpenAPI document served at /swagger/*any.
// Regenerate with: swag init -g cmd/api/main.go -o api/swagger
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/auth/login": {"post": {"tags": ["auth"], "summary": "Login user", "parameters": [{"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/service.LoginUserRequest"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/auth/refresh": {"post": {"tags": ["auth"], "summary": "Refresh token", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/auth/logout": {"post": {"tags": ["auth"], "summary": "Logout", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/auth/me": {"get": {"security": [{"BearerAuth": []}], "tags": ["auth"], "summary": "Get current user", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/approvals": {"get": {"security": [{"BearerAuth": []}], "tags": ["approvals"], "summary": "List approval requests", "parameters": [{"type": "string", "name": "status", "in": "query"}, {"type": "string", "name": "action_class", "in": "query"}, {"type": "string", "name": "target_kind", "in": "query"}, {"type": "string", "name": "target_id", "in": "query"}, {"type": "integer", "name": "page", "in": "query"}, {"type": "integer", "name": "limit", "in": "query"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/approvals/{id}": {"get": {"security": [{"BearerAuth": []}], "tags": ["approvals"], "summary": "Get approval request", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/approvals/{id}/approve": {"post": {"security": [{"BearerAuth": []}], "tags": ["approvals"], "summary": "Approve request", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"in": "body", "name": "payload", "schema": {"$ref": "#/definitions/service.ApproveRequestDTO"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.Response"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}}, "410": {"description": "Gone", "schema": {"$ref": "#/definitions/response.Response"}}, "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/approvals/{id}/reject": {"post": {"security": [{"BearerAuth": []}], "tags": ["approvals"], "summary": "Reject request", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"in": "body", "name": "payload", "schema": {"$ref": "#/definitions/service.RejectRequestDTO"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/approvals/{id}/execute": {"post": {"security": [{"BearerAuth": []}], "tags": ["approvals"], "summary": "Execute request", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/projects": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["projects"], "summary": "List projects", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["projects"], "summary": "Create project", "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}}}}
        },
        "/api/projects/{id}": {"get": {"security": [{"BearerAuth": []}], "tags": ["projects"], "summary": "Get project", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/projects/{id}/phase": {"post": {"security": [{"BearerAuth": []}], "tags": ["projects"], "summary": "Request phase advance", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/response.Response"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}}, "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/transactions": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["transactions"], "summary": "List transactions", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["transactions"], "summary": "Create transaction", "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}}, "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/response.Response"}}}}
        },
        "/api/transactions/{id}": {"get": {"security": [{"BearerAuth": []}], "tags": ["transactions"], "summary": "Get transaction", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/transactions/{id}/execute": {"post": {"security": [{"BearerAuth": []}], "tags": ["transactions"], "summary": "Execute transaction", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/policies": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["policies"], "summary": "List approval policies", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}},
            "put": {"security": [{"BearerAuth": []}], "tags": ["policies"], "summary": "Create or update approval policy", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}},
            "delete": {"security": [{"BearerAuth": []}], "tags": ["policies"], "summary": "Delete approval policy", "parameters": [{"type": "string", "name": "action_class", "in": "query", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}
        },
        "/api/policies/lookup": {"get": {"security": [{"BearerAuth": []}], "tags": ["policies"], "summary": "Get approval policy", "parameters": [{"type": "string", "name": "action_class", "in": "query", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/users": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "List users", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "Create a new user", "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}}}}
        },
        "/api/users/{id}/roles": {"put": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "Assign roles", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/roles": {"get": {"security": [{"BearerAuth": []}], "tags": ["roles"], "summary": "List roles", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/permissions": {"get": {"security": [{"BearerAuth": []}], "tags": ["roles"], "summary": "List permissions", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}},
        "/api/audit-logs": {"get": {"security": [{"BearerAuth": []}], "tags": ["audit"], "summary": "Get audit logs", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}}}
    },
    "definitions": {
        "response.Response": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "status_code": {"type": "integer"},
                "code": {"type": "string"},
                "data": {},
                "error": {"type": "string"}
            }
        },
        "service.LoginUserRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "service.ApproveRequestDTO": {
            "type": "object",
            "properties": {"notes": {"type": "string"}}
        },
        "service.RejectRequestDTO": {
            "type": "object",
            "properties": {"reason": {"type": "string"}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "RWA Admin API",
	Description:      "Tokenization admin backend with threshold approvals for project phases and platform transactions.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
