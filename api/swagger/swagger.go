package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Orders API",
        "description": "Order preparation, ticket protected downloads and bulk deletion.",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Orders", "description": "Order lifecycle and downloads"},
        {"name": "Tasks", "description": "Asynchronous task polling"}
    ],
    "paths": {
        "/orders": {
            "post": {
                "tags": ["Orders"],
                "summary": "Prepare an order archive",
                "description": "Creates the order collection and dispatches the archive build. Returns a task id, or a status when nothing was dispatched.",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PrepareOrderRequest"}}
                ],
                "responses": {
                    "200": {"description": "Archive exists or collection enabled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Task dispatched", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Storage unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Orders"],
                "summary": "Delete orders",
                "description": "Dispatches a bulk deletion. The outcome is posted to the completion callback.",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DeleteOrdersRequest"}}
                ],
                "responses": {
                    "202": {"description": "Task dispatched", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/orders/{order_id}": {
            "get": {
                "tags": ["Orders"],
                "summary": "List order artifacts",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "order_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Order not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Orders"],
                "summary": "Issue download links",
                "description": "Issues a fresh download ticket for every archive of the order. Previously issued links stop working.",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "order_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Order not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Storage unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/orders/{order_id}/download/{ftype}/c/{code}": {
            "get": {
                "tags": ["Orders"],
                "summary": "Download an order archive",
                "description": "Public endpoint. The code is the last issued ticket of the archive.",
                "produces": ["application/zip"],
                "parameters": [
                    {"name": "order_id", "in": "path", "required": true, "type": "string"},
                    {"name": "ftype", "in": "path", "required": true, "type": "string", "description": "Restriction flag followed by the split index, e.g. 00, 01, 112"},
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Archive stream", "schema": {"type": "file"}},
                    "400": {"description": "Invalid file type", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Order not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tasks/{id}": {
            "get": {
                "tags": ["Tasks"],
                "summary": "Get task state",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown task", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "PrepareOrderRequest": {
            "type": "object",
            "required": ["order_number"],
            "properties": {
                "order_number": {"type": "string", "example": "42"},
                "pids": {"type": "array", "items": {"type": "string"}},
                "file_name": {"type": "string"}
            }
        },
        "DeleteOrdersRequest": {
            "type": "object",
            "required": ["request_id"],
            "properties": {
                "request_id": {"type": "string", "example": "r1"},
                "orders": {"type": "array", "items": {"type": "string"}},
                "parameters": {"type": "object"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
