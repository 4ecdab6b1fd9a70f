// Package docs registers the Swagger specification served at /swagger.
package docs

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
        "/wallet": {
            "get": {
                "tags": ["wallet"],
                "summary": "Get the authenticated user's wallet",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/wallet/transactions": {
            "get": {
                "tags": ["wallet"],
                "summary": "List the user's transactions, newest first",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/wallet/deposit": {
            "post": {
                "tags": ["wallet"],
                "summary": "Initiate a deposit via a payment provider",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request"},
                    "409": {"description": "Duplicate idempotency key"}
                }
            }
        },
        "/wallet/deposit/confirm": {
            "post": {
                "tags": ["wallet"],
                "summary": "Confirm a pending deposit via provider capture",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/wallet/withdraw": {
            "post": {
                "tags": ["wallet"],
                "summary": "Initiate a withdrawal (funds held immediately)",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {
                    "201": {"description": "Created"},
                    "402": {"description": "Insufficient funds"}
                }
            }
        },
        "/leagues/contribute": {
            "post": {
                "tags": ["leagues"],
                "summary": "Contribute to a league pot",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {
                    "201": {"description": "Created"},
                    "402": {"description": "Insufficient funds"}
                }
            }
        },
        "/leagues/payout": {
            "post": {
                "tags": ["leagues"],
                "summary": "Pay the full league pot to the winner",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "No pot available"}
                }
            }
        },
        "/admin/users/{userID}/balance": {
            "patch": {
                "tags": ["admin"],
                "summary": "Manually adjust a user's wallet balance",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"name": "userID", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Fantasy Fusion Payments API",
	Description:      "Wallet ledger and payments reconciliation API",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
