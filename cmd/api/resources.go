package main

import (
	"resourceapi/internal/http/handler"
	"resourceapi/internal/repository"
	"resourceapi/internal/schema"
)

// declaration is one resource the service exposes.
type declaration struct {
	name   handler.Name
	schema *schema.Schema
	// identity assigns ids on create; nil means clients supply them.
	identity repository.Identity
}

func declarations() []declaration {
	return []declaration{
		{
			name: handler.NewName("item"),
			schema: schema.MustNew([]schema.Field{
				{Name: "id", Type: schema.Int, Description: "Assigned by the server when omitted."},
				{Name: "name", Type: schema.String, Required: true, Rules: "min=1,max=128"},
				{Name: "age", Type: schema.Int, Default: 0, Rules: "gte=0"},
			}),
			identity: repository.NewSequence(1),
		},
		{
			name: handler.NewName("note"),
			schema: schema.MustNew([]schema.Field{
				{Name: "id", Type: schema.String, Description: "Assigned by the server when omitted."},
				{Name: "title", Type: schema.String, Required: true, Rules: "min=1,max=200"},
				{Name: "body", Type: schema.String},
				{Name: "pinned", Type: schema.Bool, Default: false},
				{Name: "created", Type: schema.Time},
			}),
			identity: repository.UUIDIdentity{},
		},
	}
}
