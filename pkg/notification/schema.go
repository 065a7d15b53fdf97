package notification

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

const schemaBaseURL = "https://schemas.gp-webrtc.dev/notification/"

var categorySchemas = map[string]string{
	contracts.CategoryUserDeviceAdded: `{
		"type": "object",
		"required": ["title"],
		"properties": {
			"title": {"type": "string"},
			"subtitle": {"type": "string"},
			"userInfo": {
				"type": "object",
				"properties": {"deviceId": {"type": "string"}}
			}
		}
	}`,
	contracts.CategoryUserCallReceived: `{
		"$defs": {
			"call": {
				"type": "object",
				"properties": {
					"callId": {"type": "string"},
					"callerId": {"type": "string"},
					"displayName": {"type": "string"},
					"hasVideo": {"type": "boolean"}
				}
			}
		},
		"$ref": "#/$defs/call",
		"properties": {
			"userInfo": {"$ref": "#/$defs/call"}
		}
	}`,
}

// compileSchemas compiles one schema per known category.
func compileSchemas() (map[string]*jsonschema.Schema, error) {
	out := make(map[string]*jsonschema.Schema, len(categorySchemas))
	for category, src := range categorySchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := schemaBaseURL + category + ".json"
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("notification: add schema %s: %w", category, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("notification: compile schema %s: %w", category, err)
		}
		out[category] = s
	}
	return out, nil
}
