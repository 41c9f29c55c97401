// Package docs registers the OpenAPI document served by gin-swagger at
// /swagger/*any. Keep it in sync with the godoc annotations on the handlers
// (swag init -g cmd/server/main.go -o docs regenerates it).
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
        "/api/chat": {
            "post": {
                "description": "Persists the newest user turn, streams the bot's reply as server-sent events and persists the completed reply. Without conversationId nothing is stored.",
                "consumes": ["application/json"],
                "produces": ["text/event-stream"],
                "tags": ["Chat"],
                "summary": "Stream a chat reply",
                "operationId": "chat",
                "parameters": [
                    {"type": "string", "description": "Bearer token", "name": "Authorization", "in": "header"},
                    {"description": "Chat history", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "Event stream of delta frames ending in done or error", "schema": {"$ref": "#/definitions/handlers.ChatEvent"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized (empty body)", "schema": {"type": "string"}},
                    "404": {"description": "bot unavailable", "schema": {"type": "string"}},
                    "503": {"description": "Provider unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/bots": {
            "get": {
                "description": "Returns every selectable bot with its starter prompts. Deactivated bots are omitted.",
                "produces": ["application/json"],
                "tags": ["Bots"],
                "summary": "List active bots",
                "operationId": "listBots",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListBotsResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/conversations": {
            "get": {
                "description": "Returns the caller's conversations, most recently active first. Supports weak ETag via If-None-Match and may return 304.",
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "List recent conversations (paginated)",
                "operationId": "listConversations",
                "parameters": [
                    {"type": "string", "description": "Bearer token", "name": "Authorization", "in": "header"},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"type": "string", "description": "Restrict to one bot slug", "name": "bot", "in": "query"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListConversationsResponse"}, "headers": {"ETag": {"type": "string", "description": "Weak ETag for current result"}}},
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "401": {"description": "Unauthorized", "schema": {"type": "string"}},
                    "404": {"description": "Bot unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Creates a conversation between the caller and an active bot. A repeated Idempotency-Key replays the original conversation with 200.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "Create a conversation",
                "operationId": "createConversation",
                "parameters": [
                    {"type": "string", "description": "Bearer token", "name": "Authorization", "in": "header"},
                    {"type": "string", "description": "Safe-retry key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Create conversation payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateConversationRequest"}}
                ],
                "responses": {
                    "200": {"description": "Replayed", "schema": {"$ref": "#/definitions/handlers.ConversationResponse"}, "headers": {"Idempotency-Replayed": {"type": "string", "description": "true"}}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.ConversationResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"type": "string"}},
                    "404": {"description": "Bot unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/conversations/{id}/messages": {
            "get": {
                "description": "Returns every turn of a conversation owned by the caller, oldest first. Supports weak ETag via If-None-Match.",
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "Conversation history",
                "operationId": "listMessages",
                "parameters": [
                    {"type": "string", "description": "Bearer token", "name": "Authorization", "in": "header"},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"type": "string", "format": "uuid", "description": "Conversation ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListMessagesResponse"}, "headers": {"ETag": {"type": "string", "description": "Weak ETag for current result"}}},
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"type": "string"}},
                    "404": {"description": "Conversation not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.Conversation": {
            "type": "object",
            "properties": {
                "bot_id": {"type": "string"},
                "created_at": {"type": "string"},
                "id": {"type": "string"},
                "title": {"type": "string"},
                "updated_at": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "content": {"type": "string"},
                "conversation_id": {"type": "string"},
                "created_at": {"type": "string"},
                "id": {"type": "string"},
                "role": {"type": "string"},
                "seq": {"type": "integer"}
            }
        },
        "handlers.BotView": {
            "type": "object",
            "properties": {
                "avatar_color": {"type": "string", "example": "#4f46e5"},
                "avatar_emoji": {"type": "string"},
                "description": {"type": "string", "example": "Math tutor for middle school"},
                "name": {"type": "string", "example": "Metin"},
                "slug": {"type": "string", "example": "metin"},
                "suggestions": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handlers.ChatEvent": {
            "type": "object",
            "properties": {
                "content": {"type": "string"},
                "conversationId": {"type": "string"},
                "type": {"type": "string", "example": "delta"}
            }
        },
        "handlers.ChatPart": {
            "type": "object",
            "properties": {
                "text": {"type": "string", "example": "What is 2+2?"},
                "type": {"type": "string", "example": "text"}
            }
        },
        "handlers.ChatRequest": {
            "type": "object",
            "properties": {
                "botSlug": {"type": "string", "example": "metin"},
                "conversationId": {"type": "string", "example": "141add05-4415-4938-b5a1-17e0d3171aff"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/handlers.ChatTurn"}}
            }
        },
        "handlers.ChatTurn": {
            "type": "object",
            "properties": {
                "content": {"type": "string", "example": "What is 2+2?"},
                "parts": {"type": "array", "items": {"$ref": "#/definitions/handlers.ChatPart"}},
                "role": {"type": "string", "example": "user"}
            }
        },
        "handlers.ConversationResponse": {
            "type": "object",
            "properties": {
                "bot": {"$ref": "#/definitions/handlers.BotView"},
                "conversation": {"$ref": "#/definitions/domain.Conversation"}
            }
        },
        "handlers.CreateConversationRequest": {
            "type": "object",
            "required": ["bot_slug"],
            "properties": {
                "bot_slug": {"type": "string", "example": "metin"},
                "title": {"type": "string", "example": "Fractions homework"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "conversation not found"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.ListBotsResponse": {
            "type": "object",
            "properties": {
                "bots": {"type": "array", "items": {"$ref": "#/definitions/handlers.BotView"}}
            }
        },
        "handlers.ListConversationsResponse": {
            "type": "object",
            "properties": {
                "conversations": {"type": "array", "items": {"$ref": "#/definitions/domain.Conversation"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.ListMessagesResponse": {
            "type": "object",
            "properties": {
                "conversation_id": {"type": "string"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Tutor Chat API",
	Description:      "Chat bridge between tutor bots and hosted completion providers.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
