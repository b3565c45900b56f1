// Package docs registers the OpenAPI document of the relay with swag so
// gin-swagger can serve it under /swagger/.
//
// swagger.json mirrors the @-annotations on the handlers in
// internal/interfaces/http/handler; regenerate it with
//
//	swag init -g cmd/server/main.go -o docs --outputTypes json
//
// after changing an annotation.
package docs

import (
	_ "embed"

	"github.com/swaggo/swag/v2"
)

//go:embed swagger.json
var docTemplate string

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Title:            "Shipnotify Relay API",
	Description:      "Embedded app backend relaying fulfillment webhooks to the marketing API",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
