// Package docs is generated by swaggo/swag from the handler annotations.
// Regenerate with: swag init -g cmd/streakd/main.go -o docs
package docs

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
        "/healthz": {
            "get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}
        },
        "/readyz": {
            "get": {"tags": ["health"], "summary": "Readiness check", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}
        },
        "/api/v1/scopes": {
            "get": {"tags": ["automation"], "summary": "List scopes with streak, latest decision and worker status", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}}
        },
        "/api/v1/scopes/{scope}": {
            "get": {
                "tags": ["automation"], "summary": "Get one scope",
                "parameters": [{"type": "string", "description": "combination key or group name", "name": "scope", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}
            }
        },
        "/api/v1/decisions": {
            "get": {
                "tags": ["automation"], "summary": "List automation decisions (newest first)",
                "parameters": [
                    {"type": "string", "description": "scope", "name": "scope", "in": "query"},
                    {"type": "string", "description": "RFC3339 or YYYY-MM-DD", "name": "since", "in": "query"},
                    {"type": "integer", "description": "page size", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "offset", "name": "offset", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}
            }
        },
        "/api/v1/results": {
            "get": {
                "tags": ["automation"], "summary": "List daily results",
                "parameters": [
                    {"type": "string", "description": "comma separated combination keys", "name": "combination", "in": "query"},
                    {"type": "string", "description": "first date (YYYY-MM-DD)", "name": "since", "in": "query"},
                    {"type": "string", "description": "last date (YYYY-MM-DD)", "name": "until", "in": "query"},
                    {"type": "integer", "description": "max rows", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}
            }
        },
        "/api/v1/controller/evaluate": {
            "post": {"tags": ["automation"], "summary": "Run one controller cycle now", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}, "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}}
        },
        "/api/v1/override": {
            "get": {"tags": ["automation"], "summary": "Read emergency override switches", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}},
            "put": {
                "tags": ["automation"], "summary": "Set the emergency override, globally or for one scope",
                "parameters": [{"description": "override", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.overrideRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}
            }
        },
        "/api/v1/workers": {
            "get": {"tags": ["workers"], "summary": "List supervised workers", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}}
        },
        "/api/v1/workers/{scope}/events": {
            "get": {
                "tags": ["workers"], "summary": "List worker status transitions (newest first)",
                "parameters": [
                    {"type": "string", "description": "scope", "name": "scope", "in": "path", "required": true},
                    {"type": "integer", "description": "max rows", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}
            }
        },
        "/api/v1/workers/{scope}/stop": {
            "post": {
                "tags": ["workers"], "summary": "Hold a scope and stop its worker",
                "description": "The hold keeps the controller from restarting the worker until resume.",
                "parameters": [{"type": "string", "description": "scope", "name": "scope", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}
            }
        },
        "/api/v1/workers/{scope}/resume": {
            "post": {
                "tags": ["workers"], "summary": "Clear a hold and reset a degraded worker",
                "description": "The worker starts again at the next cycle if its streak still qualifies.",
                "parameters": [{"type": "string", "description": "scope", "name": "scope", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}
            }
        },
        "/api/v1/gate/{scope}": {
            "get": {
                "tags": ["automation"], "summary": "Ask the execution gate whether a scope may trade now",
                "parameters": [{"type": "string", "description": "scope", "name": "scope", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}
            }
        },
        "/api/v1/evaluator/run": {
            "post": {
                "tags": ["evaluator"], "summary": "Evaluate daily results for the configured combinations",
                "parameters": [
                    {"type": "string", "description": "first date (YYYY-MM-DD), defaults to the configured lookback", "name": "from", "in": "query"},
                    {"type": "string", "description": "last date (YYYY-MM-DD), defaults to yesterday", "name": "to", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.apiResponse"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.apiResponse"}}}
            }
        }
    },
    "definitions": {
        "handler.apiResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "data": {},
                "message": {"type": "string"},
                "meta": {"type": "object", "additionalProperties": true}
            }
        },
        "handler.overrideRequest": {
            "type": "object",
            "properties": {
                "enabled": {"type": "boolean"},
                "scope": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Streak Automation API",
	Description:      "Streak-gated trading automation: scope status, decisions, overrides and worker control.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
