package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/swaggo/swag"

	"resourceapi/internal/schema"
)

// OpenAPI derives an OpenAPI 3 document for resources and validates it.
func OpenAPI(title, version string, resources ...*Resource) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    &openapi3.Info{Title: title, Version: version},
		Paths:   openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				"Error": &openapi3.SchemaRef{Value: errorSchema()},
			},
		},
	}

	for _, r := range resources {
		title := r.name.Title()
		if _, dup := doc.Components.Schemas[title]; dup {
			return nil, fmt.Errorf("openapi: resource %q declared twice", r.name.Singular)
		}
		doc.Components.Schemas[title] = &openapi3.SchemaRef{Value: entitySchema(r.schema)}
		doc.Components.Schemas[title+"Patch"] = &openapi3.SchemaRef{Value: patchSchema(r.schema)}
		r.addPaths(doc)
	}

	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: %w", err)
	}
	return doc, nil
}

func ref(doc *openapi3.T, name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name, Value: doc.Components.Schemas[name].Value}
}

func fieldSchema(f schema.Field) *openapi3.Schema {
	var s *openapi3.Schema
	switch f.Type {
	case schema.Int:
		s = openapi3.NewInt64Schema()
	case schema.Float:
		s = openapi3.NewFloat64Schema()
	case schema.Bool:
		s = openapi3.NewBoolSchema()
	case schema.Time:
		s = openapi3.NewDateTimeSchema()
	default:
		s = openapi3.NewStringSchema()
	}
	s.Description = f.Description
	s.Default = jsonDefault(f.Default)
	if !f.Required {
		s.Nullable = true
	}
	return s
}

// jsonDefault renders a typed default the way it appears on the wire.
func jsonDefault(v any) any {
	switch d := v.(type) {
	case int64:
		return float64(d)
	case time.Time:
		return d.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func entitySchema(s *schema.Schema) *openapi3.Schema {
	obj := openapi3.NewObjectSchema()
	obj.AdditionalProperties = openapi3.AdditionalProperties{Has: openapi3.BoolPtr(false)}
	for _, f := range s.Fields() {
		obj.WithProperty(f.Name, fieldSchema(f))
		if f.Required && f.Name != s.IDField() {
			obj.Required = append(obj.Required, f.Name)
		}
	}
	return obj
}

// patchSchema accepts any subset of the declared fields.
func patchSchema(s *schema.Schema) *openapi3.Schema {
	obj := entitySchema(s)
	obj.Required = nil
	for _, f := range s.Fields() {
		obj.Properties[f.Name].Value.Nullable = true
	}
	return obj
}

func errorSchema() *openapi3.Schema {
	detail := openapi3.NewObjectSchema().
		WithProperty("field", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema())
	obj := openapi3.NewObjectSchema().
		WithProperty("request_id", openapi3.NewStringSchema()).
		WithProperty("error", openapi3.NewStringSchema().WithEnum(
			CodeNotFound, CodeConflict, CodeValidation, CodeUnavailable, CodeInternal,
			CodeBadRequest, CodeMethodNotAllowed, CodePayloadTooLarge)).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("id", &openapi3.Schema{}).
		WithProperty("details", openapi3.NewArraySchema().WithItems(detail))
	obj.Required = []string{"request_id", "error", "message"}
	return obj
}

func response(desc string, s *openapi3.SchemaRef) *openapi3.ResponseRef {
	res := openapi3.NewResponse().WithDescription(desc)
	if s != nil {
		res = res.WithJSONSchemaRef(s)
	}
	return &openapi3.ResponseRef{Value: res}
}

func (r *Resource) addPaths(doc *openapi3.T) {
	title := r.name.Title()
	entity := ref(doc, title)
	changes := ref(doc, title+"Patch")
	failure := ref(doc, "Error")
	arr := openapi3.NewArraySchema()
	arr.Items = entity
	list := &openapi3.SchemaRef{Value: arr}

	page := openapi3.NewObjectSchema().
		WithPropertyRef("items", list).
		WithProperty("total", openapi3.NewIntegerSchema()).
		WithProperty("next_cursor", openapi3.NewStringSchema())
	batch := openapi3.NewObjectSchema().WithPropertyRef("items", list)
	patchArr := openapi3.NewArraySchema()
	patchArr.Items = changes
	patchList := &openapi3.SchemaRef{Value: patchArr}

	idParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").WithSchema(fieldSchema(schema.Field{Type: r.schema.IDType(), Required: true}))}
	body := func(s *openapi3.SchemaRef) *openapi3.RequestBodyRef {
		return &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(s)}
	}
	errs := func(statuses ...int) []openapi3.NewResponsesOption {
		opts := make([]openapi3.NewResponsesOption, 0, len(statuses)+2)
		for _, st := range statuses {
			opts = append(opts, openapi3.WithStatus(st, response(http.StatusText(st), failure)))
		}
		opts = append(opts,
			openapi3.WithStatus(http.StatusServiceUnavailable, response("Storage unavailable", failure)),
			openapi3.WithStatus(http.StatusInternalServerError, response("Internal error", failure)),
		)
		return opts
	}
	with := func(ok int, desc string, s *openapi3.SchemaRef, statuses ...int) *openapi3.Responses {
		return openapi3.NewResponses(append([]openapi3.NewResponsesOption{openapi3.WithStatus(ok, response(desc, s))}, errs(statuses...)...)...)
	}

	queryParams := openapi3.Parameters{
		{Value: openapi3.NewQueryParameter("filter").WithDescription("field:op:value, repeatable").
			WithSchema(openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))},
		{Value: openapi3.NewQueryParameter("sort").WithDescription("name,-age or name:asc,age:desc").WithSchema(openapi3.NewStringSchema())},
		{Value: openapi3.NewQueryParameter("limit").WithSchema(openapi3.NewIntegerSchema().WithMin(1))},
		{Value: openapi3.NewQueryParameter("offset").WithSchema(openapi3.NewIntegerSchema().WithMin(0))},
		{Value: openapi3.NewQueryParameter("cursor").WithSchema(openapi3.NewStringSchema())},
	}

	tags := []string{r.name.Plural}
	doc.Paths.Set(r.Path(), &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags: tags, OperationID: "create" + title, Summary: "Create a " + r.name.Singular,
			RequestBody: body(entity),
			Responses:   with(http.StatusCreated, "Created", entity, http.StatusConflict, http.StatusUnprocessableEntity),
		},
		Get: &openapi3.Operation{
			Tags: tags, OperationID: "list" + AsPlural(title), Summary: "Query " + r.name.Plural,
			Parameters: queryParams,
			Responses:  with(http.StatusOK, "Page", &openapi3.SchemaRef{Value: page}, http.StatusUnprocessableEntity),
		},
	})
	doc.Paths.Set(r.Path()+"/batch", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags: tags, OperationID: "create" + AsPlural(title), Summary: "Create " + r.name.Plural + " atomically",
			RequestBody: body(list),
			Responses:   with(http.StatusCreated, "Created", &openapi3.SchemaRef{Value: batch}, http.StatusConflict, http.StatusUnprocessableEntity),
		},
		Put: &openapi3.Operation{
			Tags: tags, OperationID: "replace" + AsPlural(title), Summary: "Replace " + r.name.Plural + " atomically",
			RequestBody: body(list),
			Responses:   with(http.StatusOK, "Replaced", &openapi3.SchemaRef{Value: batch}, http.StatusNotFound, http.StatusUnprocessableEntity),
		},
		Patch: &openapi3.Operation{
			Tags: tags, OperationID: "patch" + AsPlural(title), Summary: "Change fields of " + r.name.Plural + " atomically; each item names its " + r.schema.IDField(),
			RequestBody: body(patchList),
			Responses:   with(http.StatusOK, "Updated", &openapi3.SchemaRef{Value: batch}, http.StatusNotFound, http.StatusUnprocessableEntity),
		},
	})
	doc.Paths.Set(r.Path()+"/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get: &openapi3.Operation{
			Tags: tags, OperationID: "read" + title, Summary: "Read a " + r.name.Singular,
			Responses: with(http.StatusOK, "Found", entity, http.StatusNotFound, http.StatusUnprocessableEntity),
		},
		Put: &openapi3.Operation{
			Tags: tags, OperationID: "update" + title, Summary: "Replace a " + r.name.Singular,
			RequestBody: body(entity),
			Responses:   with(http.StatusOK, "Updated", entity, http.StatusNotFound, http.StatusUnprocessableEntity),
		},
		Patch: &openapi3.Operation{
			Tags: tags, OperationID: "patch" + title, Summary: "Change fields of a " + r.name.Singular,
			RequestBody: body(changes),
			Responses:   with(http.StatusOK, "Updated", entity, http.StatusNotFound, http.StatusUnprocessableEntity),
		},
		Delete: &openapi3.Operation{
			Tags: tags, OperationID: "delete" + title, Summary: "Delete a " + r.name.Singular,
			Responses: with(http.StatusNoContent, "Deleted", nil, http.StatusNotFound, http.StatusUnprocessableEntity),
		},
	})
}

// swaggerDoc serves the latest registered document to gofiber/swagger.
type swaggerDoc struct {
	mu  sync.RWMutex
	raw string
}

func (d *swaggerDoc) ReadDoc() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.raw
}

var (
	swaggerOnce sync.Once
	swaggerReg  = &swaggerDoc{raw: "{}"}
)

// publishSwagger makes doc the one returned by swag.ReadDoc.
func publishSwagger(doc *openapi3.T) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	swaggerOnce.Do(func() { swag.Register(swag.Name, swaggerReg) })
	swaggerReg.mu.Lock()
	swaggerReg.raw = string(raw)
	swaggerReg.mu.Unlock()
	return nil
}
