//go:build swagger

// Package apidocs registers the OpenAPI document served by the swagger build.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Service banner",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.RootResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Model health and accelerator memory",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List the served model",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}
                }
            }
        },
        "/v1/chat/completions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["inference"],
                "summary": "OpenAI-style chat completion",
                "parameters": [
                    {"description": "Chat request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.ChatCompletionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ChatCompletionResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/vision/analyze": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["inference"],
                "summary": "Traditional Chinese Medicine reading of an image",
                "parameters": [
                    {"type": "file", "description": "Image (jpeg, png, gif, webp, bmp, tiff)", "name": "image", "in": "formData", "required": true},
                    {"type": "string", "description": "Question about the image", "name": "query", "in": "formData"},
                    {"type": "integer", "description": "Accepted for compatibility; generation always uses 2048", "name": "max_tokens", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.VisionAnalysisResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.RootResponse": {
            "type": "object",
            "properties": {
                "service": {"type": "string", "example": "ShizhenGPT-32B-VL API"},
                "status": {"type": "string", "example": "running"},
                "model_loaded": {"type": "boolean", "example": true}
            }
        },
        "types.VRAMStats": {
            "type": "object",
            "properties": {
                "allocated_gb": {"type": "number", "example": 66.12},
                "reserved_gb": {"type": "number", "example": 68.5},
                "total_gb": {"type": "number", "example": 85.1},
                "utilization_percent": {"type": "number", "example": 77.7}
            }
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "model_loaded": {"type": "boolean", "example": true},
                "model_name": {"type": "string", "example": "ShizhenGPT-32B-VL"},
                "device": {"type": "string", "example": "cuda:0"},
                "vram": {"$ref": "#/definitions/types.VRAMStats"}
            }
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "ShizhenGPT-32B-VL"},
                "object": {"type": "string", "example": "model"},
                "owned_by": {"type": "string", "example": "FreedomIntelligence"},
                "permission": {"type": "array", "items": {"type": "string"}}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}
            }
        },
        "types.ChatMessage": {
            "type": "object",
            "properties": {
                "role": {"type": "string", "example": "user"},
                "content": {"type": "string", "example": "手脚冰凉，经常怕冷，是什么原因？"}
            }
        },
        "types.ChatCompletionRequest": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/types.ChatMessage"}},
                "max_tokens": {"type": "integer", "example": 2048},
                "temperature": {"type": "number", "example": 0.7},
                "stream": {"type": "boolean"}
            }
        },
        "types.ChatCompletionMessage": {
            "type": "object",
            "properties": {
                "role": {"type": "string", "example": "assistant"},
                "content": {"type": "string"}
            }
        },
        "types.ChatCompletionChoice": {
            "type": "object",
            "properties": {
                "index": {"type": "integer"},
                "message": {"$ref": "#/definitions/types.ChatCompletionMessage"},
                "finish_reason": {"type": "string", "example": "stop"}
            }
        },
        "types.ChatCompletionResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "object": {"type": "string", "example": "chat.completion"},
                "created": {"type": "integer"},
                "model": {"type": "string", "example": "ShizhenGPT-32B-VL"},
                "choices": {"type": "array", "items": {"$ref": "#/definitions/types.ChatCompletionChoice"}}
            }
        },
        "types.VisionAnalysisResponse": {
            "type": "object",
            "properties": {
                "diagnosis": {"type": "string"},
                "success": {"type": "boolean", "example": true},
                "model": {"type": "string", "example": "ShizhenGPT-32B-VL"},
                "processing_time_seconds": {"type": "number", "example": 12.34}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "detail": {"type": "string", "example": "Model not loaded"},
                "code": {"type": "integer", "example": 503}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "shizhend API",
	Description:      "HTTP API serving the ShizhenGPT-32B-VL Traditional Chinese Medicine model.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
